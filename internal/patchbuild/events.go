package patchbuild

import (
	"encoding/json"
	"fmt"
)

// Listener receives events during patch generation.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventPatchSourceMissing is emitted when a new package has no prior
// "latest" to diff against, so no patch job is created.
type EventPatchSourceMissing struct {
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
}

func (e EventPatchSourceMissing) String() string { return jsonString(e) }

// EventPatchBuilt is emitted when a diff job completes successfully.
type EventPatchBuilt struct {
	Name      string `json:"name,omitempty"`
	Platform  string `json:"platform,omitempty"`
	PatchName string `json:"patch_name,omitempty"`
	PatchHash string `json:"patch_hash,omitempty"`
}

func (e EventPatchBuilt) String() string { return jsonString(e) }

// EventPatchFailed is emitted when a diff job fails; the destination
// package is still registered without patch fields.
type EventPatchFailed struct {
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e EventPatchFailed) String() string { return jsonString(e) }

package ingest

import (
	"encoding/json"
	"fmt"
)

// Listener receives events as the inbox is scanned.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventPackageAccepted is emitted for a package that passed classification.
type EventPackageAccepted struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func (e EventPackageAccepted) String() string { return jsonString(e) }

// EventPackageRejected is emitted for a package excluded from processing.
type EventPackageRejected struct {
	Filename string `json:"filename,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (e EventPackageRejected) String() string { return jsonString(e) }

// EventLatestAdvanced is emitted when a name/platform's latest pointer
// moves to a newer version.
type EventLatestAdvanced struct {
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

func (e EventLatestAdvanced) String() string { return jsonString(e) }

package updater

import (
	"encoding/json"
	"fmt"
)

// Listener receives state-machine events as they happen.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventStateChanged is emitted on every state transition.
type EventStateChanged struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (e EventStateChanged) String() string { return jsonString(e) }

// EventPatchFallback is emitted when the patch path is abandoned in favor
// of a full download. Not a fatal condition.
type EventPatchFallback struct {
	Reason string `json:"reason,omitempty"`
}

func (e EventPatchFallback) String() string { return jsonString(e) }

// EventPurged is emitted for every stale artifact removed from staging
// after a successful update.
type EventPurged struct {
	Path string `json:"path,omitempty"`
}

func (e EventPurged) String() string { return jsonString(e) }

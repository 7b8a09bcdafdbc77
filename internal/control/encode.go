package control

import (
	"encoding/json"

	"github.com/forkline/core/internal/bus"
)

// sseEnvelope is the wire shape of one `data:` line.
type sseEnvelope struct {
	ID      string                 `json:"id"`
	TS      int64                  `json:"ts"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

func ssEventJSON(e *bus.Event) ([]byte, error) {
	return json.Marshal(sseEnvelope{
		ID:      e.ID,
		TS:      e.Timestamp.UnixMilli(),
		Type:    e.Type,
		Payload: e.Payload,
	})
}

package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
)

// ExportMessage is one turn in the JSONL export.
type ExportMessage struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ExportEntry is one line of the JSONL export.
type ExportEntry struct {
	ConversationID string        `json:"conversationId"`
	Message        ExportMessage `json:"message"`
}

// ExportJSONL writes one JSON line per turn of conv.
func ExportJSONL(w io.Writer, conv *store.Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is required")
	}

	enc := json.NewEncoder(w)
	for _, turn := range conv.Turns {
		entry := ExportEntry{
			ConversationID: conv.ID,
			Message: ExportMessage{
				Role:      string(turn.Role),
				Content:   turn.Content,
				Timestamp: turn.Timestamp.UTC(),
				Metadata: map[string]interface{}{
					"turn_id": turn.ID,
				},
			},
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to write turn %d: %w", turn.ID, err)
		}
	}
	return nil
}

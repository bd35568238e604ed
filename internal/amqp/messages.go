package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fundledger/internal/core"
)

// ChangeMessage announces that a batch committed in process Origin touched
// Kinds. It carries no entity data; receivers re-read what they need.
type ChangeMessage struct {
	Origin    string      `json:"origin"`
	Kinds     []core.Kind `json:"kinds"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewChangeMessage(origin string, kinds []core.Kind) *ChangeMessage {
	return &ChangeMessage{
		Origin:    origin,
		Kinds:     append([]core.Kind(nil), kinds...),
		Timestamp: time.Now().UTC(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and rejects ones without kinds.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.Kinds) == 0 {
		return nil, fmt.Errorf("change message without kinds")
	}
	return &msg, nil
}

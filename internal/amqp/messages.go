package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RefreshMessage tells every instance that the rows of a month changed.
// Origin identifies the publishing instance so it can skip its own message.
type RefreshMessage struct {
	ID        string    `json:"id"`
	Origin    string    `json:"origin"`
	Month     string    `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRefreshMessage creates a refresh message with a fresh id.
func NewRefreshMessage(origin, month string) *RefreshMessage {
	return &RefreshMessage{
		ID:        uuid.NewString(),
		Origin:    origin,
		Month:     month,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RefreshMessageFromJSON decodes a message and requires a month.
func RefreshMessageFromJSON(data []byte) (*RefreshMessage, error) {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Month == "" {
		return nil, errors.New("refresh message without month")
	}
	return &msg, nil
}

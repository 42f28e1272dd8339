package amqp

import (
	"encoding/json"
	"time"

	"billed/internal/core"
)

// EventBillSubmitted is the routing key and message type of submitted bills.
const EventBillSubmitted = "bill.submitted"

// BillSubmittedMessage announces that a bill was created or updated.
// It carries only the id; consumers fetch the full bill from the store.
type BillSubmittedMessage struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Status    core.Status `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewBillSubmittedMessage(b core.Bill) *BillSubmittedMessage {
	return &BillSubmittedMessage{
		ID:        b.ID,
		Email:     b.Email,
		Status:    b.Status,
		Timestamp: time.Now().UTC(),
	}
}

func (m *BillSubmittedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BillSubmittedMessageFromJSON(data []byte) (*BillSubmittedMessage, error) {
	var msg BillSubmittedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

package proto

import (
	"encoding/json"
	"fmt"
)

const (
	// Chat channel.
	TypeGetUsers    = "get_users"
	TypeChatMessage = "chat_message"
	TypeMarkAsRead  = "mark_as_read"

	// Notification channel.
	TypeNotification = "notification"

	// Signaling channel.
	TypeSignal       = "signal"
	TypeICECandidate = "ice_candidate"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"

	// Outbound only.
	TypeReadReceipt = "read_receipt"
	TypeError       = "error"
)

// Frame is the single wire unit exchanged in both directions.
// Inbound frames use a subset of the fields depending on Type; outbound frames
// are built by the relay and carry delivery-specific fields.
//
// ID is the stored message id. Live chat_message broadcasts go out before the
// message is persisted and carry none; history replays and notifications do.
// Count is a pointer so a read_receipt for zero messages still carries it.
type Frame struct {
	Type         string          `json:"type"`
	ID           int64           `json:"id,omitempty"`
	Message      string          `json:"message,omitempty"`
	Sender       string          `json:"sender,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	Avatar       string          `json:"avatar,omitempty"`
	Notification string          `json:"notification,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Count        *int64          `json:"count,omitempty"`
	Signal       json.RawMessage `json:"signal,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Decode parses one inbound frame. A frame without a type is rejected.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

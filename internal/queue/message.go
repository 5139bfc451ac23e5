package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedMessage marks a payload that cannot be decoded into a Message.
var ErrMalformedMessage = errors.New("malformed job message")

// Message is the unit of work on the grading queue.
type Message struct {
	SubmissionID string    `json:"submission_id"`
	Attempt      int       `json:"attempt"`
	// StoreRetries counts consecutive requeues caused by the submission
	// store being unreachable. It never consumes Attempt.
	StoreRetries int       `json:"store_retries,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at,omitempty"`
}

// Next returns the message for the following attempt.
func (m Message) Next(now time.Time) Message {
	return Message{SubmissionID: m.SubmissionID, Attempt: m.Attempt + 1, EnqueuedAt: now}
}

// Deferred returns the same attempt with one more store outage recorded.
func (m Message) Deferred(now time.Time) Message {
	return Message{
		SubmissionID: m.SubmissionID,
		Attempt:      m.Attempt,
		StoreRetries: m.StoreRetries + 1,
		EnqueuedAt:   now,
	}
}

// Encode renders a first attempt as the bare identifier, matching what the
// webhook pushes, and retries as JSON so the attempt count travels along.
func (m Message) Encode() (string, error) {
	if strings.TrimSpace(m.SubmissionID) == "" {
		return "", fmt.Errorf("%w: empty submission id", ErrMalformedMessage)
	}
	if m.Attempt <= 1 && m.StoreRetries == 0 && m.EnqueuedAt.IsZero() {
		return m.SubmissionID, nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Decode accepts both the bare identifier and the JSON envelope.
func Decode(raw string) (Message, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	if !strings.HasPrefix(trimmed, "{") {
		return Message{SubmissionID: trimmed, Attempt: 1}, nil
	}

	var message Message
	if err := json.Unmarshal([]byte(trimmed), &message); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	message.SubmissionID = strings.TrimSpace(message.SubmissionID)
	if message.SubmissionID == "" {
		return Message{}, fmt.Errorf("%w: missing submission_id", ErrMalformedMessage)
	}
	if message.Attempt < 1 {
		message.Attempt = 1
	}
	if message.StoreRetries < 0 {
		message.StoreRetries = 0
	}
	return message, nil
}

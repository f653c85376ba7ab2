// Package messaging provides pluggable message transports and the inbound
// response handling pipeline for SurveyPipe.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
)

// ErrServiceStopped indicates a send was attempted after the service stopped.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit from a recipient.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Receipt is a delivery status event for an outbound message.
type Receipt struct {
	To     string `json:"to"`
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// InboundMessage is an incoming participant message from a transport.
type InboundMessage struct {
	From string    `json:"from"`
	Body string    `json:"body"`
	Time time.Time `json:"time"`
}

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and inbound
// message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events.
	Receipts() <-chan Receipt

	// Messages returns a channel of incoming participant messages.
	Messages() <-chan InboundMessage
}

// canonicalizePhone validates and canonicalizes a phone number by removing
// all non-numeric characters and requiring at least 6 digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}

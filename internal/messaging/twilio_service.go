package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/twiliosms"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive over the SMS webhook, which processes them
// synchronously so the reply can travel back in the TwiML response body.
// The Messages channel therefore stays idle on this transport; it serves
// the channel-driven Listen path that WhatsApp uses.
type TwilioService struct {
	client   twiliosms.SMSSender
	receipts chan Receipt
	messages chan InboundMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliosms.SMSSender) *TwilioService {
	return &TwilioService{
		client:   client,
		receipts: make(chan Receipt, DefaultChannelBufferSize),
		messages: make(chan InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio (inbound traffic arrives over the webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.messages)
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	select {
	case s.receipts <- Receipt{To: canonicalTo, Status: "sent", Time: time.Now().Unix()}:
	default:
		slog.Warn("TwilioService receipt channel full, dropping receipt", "to", canonicalTo)
	}
	return nil
}

// EnqueueInbound delivers an externally received message to the Messages
// channel for callers that want channel-driven processing instead of the
// synchronous webhook reply.
func (s *TwilioService) EnqueueInbound(msg InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.messages <- msg:
	default:
		slog.Warn("TwilioService message channel full, dropping inbound message")
	}
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan Receipt {
	return s.receipts
}

// Messages returns a channel of incoming participant messages.
func (s *TwilioService) Messages() <-chan InboundMessage {
	return s.messages
}

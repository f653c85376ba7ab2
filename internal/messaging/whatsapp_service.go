package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
)

// DefaultChannelTimeout defines the timeout for non-blocking channel operations.
const DefaultChannelTimeout = 1 * time.Second

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to underlying client for event handling
	receipts chan Receipt
	messages chan InboundMessage
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		receipts: make(chan Receipt, DefaultChannelBufferSize),
		messages: make(chan InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	// Full clients expose the underlying whatsmeow client for event handling;
	// mocks do not.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.receipts)
	close(s.messages)
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	select {
	case s.receipts <- Receipt{To: canonicalTo, Status: "sent", Time: time.Now().Unix()}:
	default:
		slog.Warn("WhatsAppService receipt channel full, dropping receipt", "to", canonicalTo)
	}
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan Receipt {
	return s.receipts
}

// Messages returns a channel of incoming participant messages.
func (s *WhatsAppService) Messages() <-chan InboundMessage {
	return s.messages
}

// handleEvents registers a whatsmeow event handler feeding incoming text
// messages and receipts into the service channels.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage forwards incoming text messages; non-text messages
// (images, audio, etc.) are skipped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message")
		return
	}

	msg := InboundMessage{
		From: "+" + evt.Info.Sender.User,
		Body: messageText,
		Time: evt.Info.Timestamp,
	}

	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService incoming message forwarded", "body_length", len(msg.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService message channel blocked, dropping message", "timeout", DefaultChannelTimeout)
	}
}

// handleMessageReceipt forwards delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status string
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = "delivered"
	case events.ReceiptTypeRead:
		status = "read"
	default:
		return
	}

	receipt := Receipt{
		To:     "+" + evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipt channel blocked, dropping receipt", "timeout", DefaultChannelTimeout)
	}
}

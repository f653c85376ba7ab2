package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
)

func TestWhatsAppServiceSendMessage(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())
	ctx := context.Background()

	if err := service.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := service.SendMessage(ctx, "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	select {
	case receipt := <-service.Receipts():
		if receipt.To != "15551234567" {
			t.Errorf("expected canonical recipient 15551234567, got %q", receipt.To)
		}
		if receipt.Status != "sent" {
			t.Errorf("expected sent receipt, got %q", receipt.Status)
		}
	default:
		t.Fatal("expected a sent receipt")
	}
}

func TestWhatsAppServiceRejectsInvalidRecipient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	if err := service.SendMessage(context.Background(), "not-a-number", "hello"); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func TestWhatsAppServiceStopClosesChannels(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	if err := service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, ok := <-service.Messages(); ok {
		t.Error("expected messages channel to be closed")
	}
	if _, ok := <-service.Receipts(); ok {
		t.Error("expected receipts channel to be closed")
	}
}

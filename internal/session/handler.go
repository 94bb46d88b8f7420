package session

import (
	"context"
	"fmt"

	"github.com/digitalbodhi/sigmsg/internal/event"
)

func (s *Session) installDefaultHandlers() {
	s.registry.HandleKind(event.KindResult, func(ctx context.Context, ev *event.Event) error {
		s.log.Debug("result", "id", ev.ID(), "results", len(ev.Results()))
		return nil
	})
	s.registry.HandleKind(event.KindError, func(ctx context.Context, ev *event.Event) error {
		msg, _ := ev.Body()
		s.log.Error("daemon error", "id", ev.ID(), "message", msg)
		return nil
	})
	s.registry.HandleKind(event.KindUnknown, func(ctx context.Context, ev *event.Event) error {
		s.log.Warn("unknown document", "doc", string(ev.Raw()))
		return nil
	})
	s.registry.HandleKind(event.KindSent, func(ctx context.Context, ev *event.Event) error {
		s.log.Debug("sent", "event", ev.String())
		return nil
	})
	s.registry.Handle(event.KindReceived, event.SubkindReceipt, func(ctx context.Context, ev *event.Event) error {
		s.log.Debug("receipt", "sender", ev.Sender(), "receipt", ev.ReceiptKind())
		return nil
	})
	s.registry.HandleKind(event.KindReceived, func(ctx context.Context, ev *event.Event) error {
		s.log.Debug("received", "subkind", ev.Subkind(), "sender", ev.Sender())
		return nil
	})
	s.registry.Handle(event.KindReceived, event.SubkindMessage, s.handleMessage)
}

// handleMessage acknowledges an incoming message and, when configured,
// answers it.
func (s *Session) handleMessage(ctx context.Context, ev *event.Event) error {
	if err := ev.AcknowledgeReceipt(ctx); err != nil {
		return fmt.Errorf("acknowledge receipt: %w", err)
	}
	body, _ := ev.Body()
	s.log.Info("message", "sender", ev.Sender(), "name", ev.SenderName(), "body", body, "attachments", ev.HasAttachments())

	if s.autoReply == "" || ev.Sender() == s.account.Number {
		return nil
	}
	if err := ev.Reply(ctx, s.autoReply); err != nil {
		return fmt.Errorf("auto reply: %w", err)
	}
	return nil
}

package messaging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// DemoSender logs messages instead of sending them.
type DemoSender struct {
	logger *slog.Logger
}

var _ Sender = (*DemoSender)(nil)

// NewDemoSender creates a DemoSender.
func NewDemoSender(logger *slog.Logger) *DemoSender {
	return &DemoSender{logger: logging.WithComponent(logging.OrDiscard(logger), "messaging-demo")}
}

func (s *DemoSender) Provider() string { return "demo" }

// Send validates the recipient and returns a demo delivery id.
func (s *DemoSender) Send(ctx context.Context, msg Message) (Delivery, error) {
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return Delivery{}, err
	}
	id := "demo_" + uuid.NewString()
	s.logger.Info("demo whatsapp message", "id", id, "to", logging.MaskPhone(to), "has_media", msg.MediaURL != "" || msg.MediaPath != "")
	return Delivery{ID: id, Status: StatusSent, Provider: s.Provider()}, nil
}

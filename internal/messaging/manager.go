package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/metrics"
)

// Manager sends messages through the configured provider and records
// every attempt.
type Manager struct {
	sender Sender
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(sender Sender, store Store, logger *slog.Logger) *Manager {
	return &Manager{
		sender: sender,
		store:  store,
		logger: logging.WithComponent(logging.OrDiscard(logger), "messaging"),
		now:    time.Now,
	}
}

// Provider returns the active provider name.
func (m *Manager) Provider() string { return m.sender.Provider() }

// Send delivers msg and persists the attempt. A failed send is still
// recorded with status failed; the send error is returned.
func (m *Manager) Send(ctx context.Context, videoID string, msg Message) (*Record, error) {
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return nil, err
	}
	msg.To = to

	d, sendErr := m.sender.Send(ctx, msg)
	metrics.RecordDelivery(m.sender.Provider(), sendErr)

	now := m.now().UTC()
	rec := &Record{
		ID:        d.ID,
		VideoID:   videoID,
		To:        to,
		Provider:  m.sender.Provider(),
		Status:    d.Status,
		Body:      msg.Body,
		MediaURL:  msg.MediaURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sendErr != nil {
		rec.ID = "failed_" + uuid.NewString()
		rec.Status = StatusFailed
		rec.ErrorMessage = sendErr.Error()
		m.logger.Warn("message send failed", "to", logging.MaskPhone(to), "error", sendErr)
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}

	if err := m.store.CreateMessage(ctx, rec); err != nil {
		if sendErr != nil {
			return rec, errors.Join(sendErr, err)
		}
		return rec, fmt.Errorf("record message: %w", err)
	}
	return rec, sendErr
}

// StatusUpdate is a provider delivery callback.
type StatusUpdate struct {
	MessageID    string
	Status       string
	From         string
	To           string
	ErrorCode    string
	ErrorMessage string
}

// HandleStatus applies a delivery callback to the stored record.
func (m *Manager) HandleStatus(ctx context.Context, u StatusUpdate) error {
	if u.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrUnknownMessage)
	}
	if !IsKnownStatus(u.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}
	ok, err := m.store.UpdateMessageStatus(ctx, u.MessageID, u.Status, u.ErrorCode, u.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, u.MessageID)
	}
	m.logger.Info("message status updated", "id", u.MessageID, "status", u.Status, "to", logging.MaskPhone(u.To))
	return nil
}

// Status returns the stored record, refreshing it from the provider when
// the provider supports polling.
func (m *Manager) Status(ctx context.Context, id string) (*Record, error) {
	rec, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}

	fetcher, ok := m.sender.(StatusFetcher)
	if !ok || rec.Provider != m.sender.Provider() || isTerminal(rec.Status) {
		return rec, nil
	}
	status, err := fetcher.FetchStatus(ctx, id)
	if err != nil {
		m.logger.Warn("status refresh failed", "id", id, "error", err)
		return rec, nil
	}
	if status != rec.Status && IsKnownStatus(status) {
		if _, err := m.store.UpdateMessageStatus(ctx, id, status, "", ""); err != nil {
			return nil, fmt.Errorf("update message status: %w", err)
		}
		rec.Status = status
		rec.UpdatedAt = m.now().UTC()
	}
	return rec, nil
}

func isTerminal(status string) bool {
	return status == StatusRead || status == StatusFailed || status == StatusUndelivered
}

// Analytics summarizes message outcomes. Rates are percentages rounded to
// two decimals.
type Analytics struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	DeliveryRate float64        `json:"delivery_rate"`
	ReadRate     float64        `json:"read_rate"`
	FailureRate  float64        `json:"failure_rate"`
}

// Analytics summarizes messages created since the given time.
func (m *Manager) Analytics(ctx context.Context, since time.Time) (Analytics, error) {
	recs, err := m.store.ListMessagesSince(ctx, since)
	if err != nil {
		return Analytics{}, fmt.Errorf("list messages: %w", err)
	}
	return Summarize(recs), nil
}

// Summarize computes Analytics over recs. Read messages count as delivered.
func Summarize(recs []*Record) Analytics {
	groups := lo.GroupBy(recs, func(r *Record) string { return r.Status })
	a := Analytics{
		Total:    len(recs),
		ByStatus: lo.MapValues(groups, func(g []*Record, _ string) int { return len(g) }),
	}
	if a.Total == 0 {
		return a
	}
	rate := func(n int) float64 {
		return math.Round(float64(n)/float64(a.Total)*10000) / 100
	}
	a.DeliveryRate = rate(a.ByStatus[StatusDelivered] + a.ByStatus[StatusRead])
	a.ReadRate = rate(a.ByStatus[StatusRead])
	a.FailureRate = rate(a.ByStatus[StatusFailed] + a.ByStatus[StatusUndelivered])
	return a
}

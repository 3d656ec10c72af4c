// Package messaging delivers finished videos over WhatsApp and tracks
// delivery status callbacks.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidPhone is returned for numbers that are not E.164-like.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrUnknownMessage is returned when a status update names no known message.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrInvalidStatus is returned for status values outside the known set.
	ErrInvalidStatus = errors.New("invalid message status")
)

// Delivery statuses reported by providers.
const (
	StatusQueued      = "queued"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
)

var knownStatuses = map[string]bool{
	StatusQueued: true, StatusSent: true, StatusDelivered: true,
	StatusRead: true, StatusFailed: true, StatusUndelivered: true,
}

// IsKnownStatus reports whether s is a recognised delivery status.
func IsKnownStatus(s string) bool { return knownStatuses[s] }

// Message is an outbound WhatsApp message.
type Message struct {
	To        string // E.164 number, with or without a whatsapp: prefix
	Body      string
	MediaURL  string // public URL, used by API providers
	MediaPath string // local file, used by browser automation
}

// Delivery is a provider's acknowledgement of a send.
type Delivery struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// Sender sends a message through one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
	Provider() string
}

// StatusFetcher is implemented by senders that can poll delivery status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, id string) (string, error)
}

// Record is a persisted message and its latest status.
type Record struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id,omitempty"`
	To           string    `json:"to"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	Body         string    `json:"body,omitempty"`
	MediaURL     string    `json:"media_url,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists message records.
type Store interface {
	CreateMessage(ctx context.Context, rec *Record) error
	GetMessage(ctx context.Context, id string) (*Record, error)
	UpdateMessageStatus(ctx context.Context, id, status, errorCode, errorMessage string) (bool, error)
	ListMessagesSince(ctx context.Context, since time.Time) ([]*Record, error)
}

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// NormalizePhone strips a whatsapp: prefix and formatting characters and
// validates the result.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(phone), "whatsapp:")
	p = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(p)
	if !phonePattern.MatchString(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p, nil
}

// WhatsAppAddress returns the whatsapp:-prefixed form of an E.164 number.
func WhatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

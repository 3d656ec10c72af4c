package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// twilioAPI is the subset of the Twilio REST client used here.
type twilioAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	FetchMessage(sid string, params *openapi.FetchMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends WhatsApp messages through the Twilio Messages API.
type TwilioSender struct {
	api            twilioAPI
	from           string
	statusCallback string
	logger         *slog.Logger
}

var (
	_ Sender        = (*TwilioSender)(nil)
	_ StatusFetcher = (*TwilioSender)(nil)
)

// NewTwilioSender creates a sender for the given account. statusCallback
// may be empty.
func NewTwilioSender(accountSID, authToken, from, statusCallback string, logger *slog.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(client.Api, from, statusCallback, logger)
}

func newTwilioSender(api twilioAPI, from, statusCallback string, logger *slog.Logger) *TwilioSender {
	return &TwilioSender{
		api:            api,
		from:           WhatsAppAddress(from),
		statusCallback: statusCallback,
		logger:         logging.WithComponent(logging.OrDiscard(logger), "twilio"),
	}
}

func (s *TwilioSender) Provider() string { return "twilio" }

// Send creates the message. The Twilio client has no context support, so
// ctx is only checked before the call.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return Delivery{}, err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(s.from)
	params.SetBody(msg.Body)
	if msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}
	if s.statusCallback != "" {
		params.SetStatusCallback(s.statusCallback)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return Delivery{}, fmt.Errorf("twilio create message: %w", err)
	}

	d := Delivery{Provider: s.Provider(), Status: StatusQueued}
	if resp.Sid != nil {
		d.ID = *resp.Sid
	}
	if resp.Status != nil {
		d.Status = *resp.Status
	}
	s.logger.Info("whatsapp message created", "sid", d.ID, "status", d.Status, "to", logging.MaskPhone(to))
	return d, nil
}

// FetchStatus returns the current status of a message.
func (s *TwilioSender) FetchStatus(ctx context.Context, sid string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.api.FetchMessage(sid, &openapi.FetchMessageParams{})
	if err != nil {
		return "", fmt.Errorf("twilio fetch message: %w", err)
	}
	if resp.Status == nil {
		return "", fmt.Errorf("twilio fetch message: no status for %s", sid)
	}
	return *resp.Status, nil
}

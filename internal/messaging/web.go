package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// WhatsApp Web selectors. They track the web client's markup and are the
// first thing to check when sends start timing out.
const (
	selComposeBox = `div[contenteditable="true"][data-tab="10"]`
	selAttach     = `span[data-icon="plus"]`
	selFileInput  = `input[type="file"][accept*="video"]`
	selSendButton = `span[data-icon="send"]`
)

const defaultWebTimeout = 2 * time.Minute

// WebSender drives a logged-in WhatsApp Web session in a headless Chrome
// profile. The profile directory must already hold a session paired by
// scanning the QR code once with a visible browser.
type WebSender struct {
	profileDir string
	headless   bool
	timeout    time.Duration
	logger     *slog.Logger

	// One browser per profile directory; Chrome refuses concurrent use.
	mu sync.Mutex
}

var _ Sender = (*WebSender)(nil)

// NewWebSender creates a browser-automation sender.
func NewWebSender(profileDir string, headless bool, timeout time.Duration, logger *slog.Logger) (*WebSender, error) {
	if profileDir == "" {
		return nil, fmt.Errorf("whatsapp web: profile directory is required")
	}
	if timeout <= 0 {
		timeout = defaultWebTimeout
	}
	return &WebSender{
		profileDir: profileDir,
		headless:   headless,
		timeout:    timeout,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "whatsapp-web"),
	}, nil
}

func (s *WebSender) Provider() string { return "web" }

// Send opens the chat for msg.To, attaches msg.MediaPath when present and
// presses send.
func (s *WebSender) Send(ctx context.Context, msg Message) (Delivery, error) {
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return Delivery{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(s.profileDir),
		chromedp.Flag("headless", s.headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	if err := chromedp.Run(runCtx, sendActions(to, msg)...); err != nil {
		return Delivery{}, fmt.Errorf("whatsapp web send: %w", err)
	}

	id := "web_" + uuid.NewString()
	s.logger.Info("whatsapp web message sent", "id", id, "to", logging.MaskPhone(to), "has_media", msg.MediaPath != "")
	return Delivery{ID: id, Status: StatusSent, Provider: s.Provider()}, nil
}

// ChatURL returns the WhatsApp Web deep link for a number and prefilled text.
func ChatURL(phone, text string) string {
	q := url.Values{}
	q.Set("phone", strings.TrimPrefix(phone, "+"))
	if text != "" {
		q.Set("text", text)
	}
	return "https://web.whatsapp.com/send?" + q.Encode()
}

func sendActions(to string, msg Message) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.Navigate(ChatURL(to, msg.Body)),
		chromedp.WaitVisible(selComposeBox, chromedp.ByQuery),
	}
	if msg.MediaPath != "" {
		actions = append(actions,
			chromedp.Click(selAttach, chromedp.ByQuery),
			chromedp.SetUploadFiles(selFileInput, []string{msg.MediaPath}, chromedp.ByQuery),
		)
	}
	return append(actions,
		chromedp.WaitVisible(selSendButton, chromedp.ByQuery),
		chromedp.Click(selSendButton, chromedp.ByQuery),
		// Give the client time to hand the message to the server before
		// the browser is torn down.
		chromedp.Sleep(3*time.Second),
	)
}

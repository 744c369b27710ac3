package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultSMSURL is the voucher SMS endpoint used when none is configured.
const DefaultSMSURL = "https://backup.norismedia.com/api/send_voucher_sms.php"

// DefaultSMSTimeout bounds a single SMS request.
const DefaultSMSTimeout = 30 * time.Second

// SMSOption configures an SMS notifier.
type SMSOption func(*SMS)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) SMSOption {
	return func(s *SMS) { s.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SMSOption {
	return func(s *SMS) { s.logger = l }
}

// SMS posts voucher notifications to an HTTP endpoint that sends the text.
type SMS struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

var _ Notifier = (*SMS)(nil)

// NewSMS creates an SMS notifier posting to url, or DefaultSMSURL when empty.
func NewSMS(url string, opts ...SMSOption) *SMS {
	if url == "" {
		url = DefaultSMSURL
	}
	s := &SMS{
		url:    url,
		http:   &http.Client{Timeout: DefaultSMSTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type smsRequest struct {
	VoucherID     int64  `json:"voucher_id"`
	CustomerPhone string `json:"customer_phone"`
	TransactionID int64  `json:"transaction_id"`
}

type smsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SMSError is returned when the endpoint answers but reports failure.
type SMSError struct {
	StatusCode int
	Message    string
}

func (e *SMSError) Error() string {
	return fmt.Sprintf("notify: sms rejected (status %d): %s", e.StatusCode, e.Message)
}

// Notify implements Notifier.
func (s *SMS) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(smsRequest{
		VoucherID:     msg.VoucherID,
		CustomerPhone: msg.CustomerPhone,
		TransactionID: msg.TransactionID,
	})
	if err != nil {
		return fmt.Errorf("notify: encode sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !msg.ID.IsNil() {
		req.Header.Set("X-Request-ID", msg.ID.String())
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send sms: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("notify: read sms response: %w", err)
	}

	var out smsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return &SMSError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("notify: decode sms response: %w", err)
	}
	if !out.Success || resp.StatusCode >= 300 {
		return &SMSError{StatusCode: resp.StatusCode, Message: out.Message}
	}

	s.logger.Info("notify: sms sent",
		"voucher_id", msg.VoucherID,
		"transaction_id", msg.TransactionID,
		"customer_phone", msg.CustomerPhone,
	)
	return nil
}

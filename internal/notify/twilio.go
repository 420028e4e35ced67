package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	twilioBaseURL = "https://api.twilio.com/2010-04-01"
	twilioTimeout = 10 * time.Second
)

// TwilioConfig holds the credentials for the Twilio Messages API.
type TwilioConfig struct {
	AccountSID string
	APIKey     string
	APISecret  string
	From       string
	To         string
}

// Configured reports whether every field needed to send is set.
func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.APIKey != "" && c.APISecret != "" && c.From != "" && c.To != ""
}

// Twilio sends SMS through the Twilio REST API.
type Twilio struct {
	cfg        TwilioConfig
	baseURL    string
	httpClient *http.Client
}

// NewTwilio creates a Twilio sender.
func NewTwilio(cfg TwilioConfig) *Twilio {
	return NewTwilioWithBaseURL(cfg, twilioBaseURL)
}

// NewTwilioWithBaseURL creates a Twilio sender against a custom API root.
func NewTwilioWithBaseURL(cfg TwilioConfig, baseURL string) *Twilio {
	return &Twilio{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: twilioTimeout},
	}
}

func (t *Twilio) Channel() string { return ChannelSMS }

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Deliver sends text as one SMS. Failures are *DeliveryError.
func (t *Twilio) Deliver(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("To", t.cfg.To)
	form.Set("From", t.cfg.From)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &DeliveryError{Channel: ChannelSMS, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.APIKey, t.cfg.APISecret)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Channel: ChannelSMS, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var te twilioError
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			return &DeliveryError{Channel: ChannelSMS, Err: fmt.Errorf("twilio %d: %s", te.Code, te.Message)}
		}
		return &DeliveryError{Channel: ChannelSMS, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var sent struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil || sent.SID == "" {
		return &DeliveryError{Channel: ChannelSMS, Err: errors.New("response has no message sid")}
	}
	return nil
}

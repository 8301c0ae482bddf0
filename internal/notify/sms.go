package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const brevoSMSURL = "https://api.brevo.com/v3/transactionalSMS/sms"

// SMSClient sends transactional SMS through the Brevo API.
type SMSClient struct {
	apiKey string
	sender string
	http   *http.Client
}

func NewSMSClient(apiKey, sender string) *SMSClient {
	return &SMSClient{
		apiKey: apiKey,
		sender: sender,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type brevoSMSRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

func (c *SMSClient) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(brevoSMSRequest{
		Sender:    c.sender,
		Recipient: normalizePhone(phone),
		Content:   message,
		Type:      "transactional",
	})
	if err != nil {
		return fmt.Errorf("brevo: encode sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoSMSURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("brevo: send sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("brevo: send sms: status %d", resp.StatusCode)
	}
	return nil
}

// normalizePhone turns local Senegalese numbers into E.164. Numbers that
// already carry a country code pass through unchanged.
func normalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "", ".", "").Replace(phone)
	if strings.HasPrefix(p, "+") {
		return p
	}
	if strings.HasPrefix(p, "00") {
		return "+" + p[2:]
	}
	if len(p) == 9 && (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "3")) {
		return "+221" + p
	}
	return p
}

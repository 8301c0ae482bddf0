package payments

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	paydunyaLiveURL    = "https://app.paydunya.com/api/v1"
	paydunyaSandboxURL = "https://app.paydunya.com/sandbox-api/v1"
)

// PaydunyaConfig holds the three PayDunya API keys plus mode selection.
type PaydunyaConfig struct {
	MasterKey  string
	PrivateKey string
	Token      string
	Sandbox    bool
	HTTPClient *http.Client
}

// Paydunya implements Provider against the PayDunya checkout-invoice API.
// The customer is redirected to a hosted page; settlement arrives through
// the IPN callback carrying a SHA-512 hash of the master key.
type Paydunya struct {
	cfg     PaydunyaConfig
	baseURL string
	http    *http.Client
}

var _ Provider = (*Paydunya)(nil)

func NewPaydunya(cfg PaydunyaConfig) *Paydunya {
	base := paydunyaLiveURL
	if cfg.Sandbox {
		base = paydunyaSandboxURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Paydunya{cfg: cfg, baseURL: base, http: hc}
}

func (p *Paydunya) Name() string { return "paydunya" }

type paydunyaInvoiceRequest struct {
	Invoice struct {
		TotalAmount float64 `json:"total_amount"`
		Description string  `json:"description"`
	} `json:"invoice"`
	Store struct {
		Name string `json:"name"`
	} `json:"store"`
	Actions struct {
		ReturnURL   string `json:"return_url,omitempty"`
		CancelURL   string `json:"cancel_url,omitempty"`
		CallbackURL string `json:"callback_url,omitempty"`
	} `json:"actions"`
	CustomData map[string]string `json:"custom_data,omitempty"`
}

type paydunyaInvoiceResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Token        string `json:"token"`
	Description  string `json:"description"`
}

func (p *Paydunya) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	body := paydunyaInvoiceRequest{}
	amount, _ := req.Amount.Float64()
	body.Invoice.TotalAmount = amount
	body.Invoice.Description = req.Description
	body.Store.Name = "Fournil Doré"
	body.Actions.ReturnURL = req.ReturnURL
	body.Actions.CancelURL = req.CancelURL
	body.Actions.CallbackURL = req.CallbackURL
	body.CustomData = map[string]string{
		"order_id":     req.OrderID,
		"order_number": req.OrderNumber,
	}

	var resp paydunyaInvoiceResponse
	if err := p.do(ctx, http.MethodPost, "/checkout-invoice/create", body, &resp); err != nil {
		return InitResponse{}, err
	}
	if resp.ResponseCode != "00" {
		return InitResponse{}, &RejectionError{Reason: resp.ResponseText}
	}
	return InitResponse{
		TransactionID:  resp.Token,
		TransactionRef: resp.Token,
		RedirectURL:    resp.ResponseText,
	}, nil
}

type paydunyaConfirmResponse struct {
	Status  string `json:"status"`
	Invoice struct {
		Token string `json:"token"`
	} `json:"invoice"`
	CustomData map[string]string `json:"custom_data"`
}

func (p *Paydunya) Verify(ctx context.Context, transactionID string) (VerifyResult, error) {
	var resp paydunyaConfirmResponse
	if err := p.do(ctx, http.MethodGet, "/checkout-invoice/confirm/"+transactionID, nil, &resp); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{TransactionID: transactionID, Status: paydunyaStatus(resp.Status), Reason: paydunyaReason(resp.Status)}, nil
}

type paydunyaWebhook struct {
	Invoice struct {
		Token string `json:"token"`
	} `json:"invoice"`
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

// ParseWebhook authenticates the IPN payload by comparing its hash against
// the SHA-512 digest of the account master key.
func (p *Paydunya) ParseWebhook(payload []byte, _ string) (VerifyResult, error) {
	var hook paydunyaWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return VerifyResult{}, fmt.Errorf("paydunya: decode webhook: %w", err)
	}
	sum := sha512.Sum512([]byte(p.cfg.MasterKey))
	want := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(want), []byte(hook.Hash)) != 1 {
		return VerifyResult{}, ErrBadSignature
	}
	return VerifyResult{
		TransactionID: hook.Invoice.Token,
		Status:        paydunyaStatus(hook.Status),
		Reason:        paydunyaReason(hook.Status),
	}, nil
}

func paydunyaStatus(s string) Status {
	switch s {
	case "completed":
		return StatusSucceeded
	case "cancelled", "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func paydunyaReason(s string) string {
	switch s {
	case "cancelled":
		return "cancelled by customer"
	case "failed":
		return "rejected by provider"
	default:
		return ""
	}
}

func (p *Paydunya) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paydunya: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PAYDUNYA-MASTER-KEY", p.cfg.MasterKey)
	req.Header.Set("PAYDUNYA-PRIVATE-KEY", p.cfg.PrivateKey)
	req.Header.Set("PAYDUNYA-TOKEN", p.cfg.Token)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("paydunya: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("paydunya: %s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paydunya: decode response: %w", err)
	}
	return nil
}

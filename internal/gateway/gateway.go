package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"stakeledger/internal/config"
	"stakeledger/internal/util"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var log = config.InitLogger()

const (
	intentsPath = "/v1/payment_intents"
)

var ErrUnavailable = errors.New("payment gateway unavailable")

// StatusError is a non-2xx reply from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

type CreateIntentRequest struct {
	ReferenceId string            `json:"reference_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	Name        string            `json:"name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Intent struct {
	Id          string          `json:"id"`
	ReferenceId string          `json:"reference_id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CheckoutURL string          `json:"checkout_url"`
}

// WebhookEvent is the body the gateway posts on payment updates.
type WebhookEvent struct {
	Event       string          `json:"event"`
	IntentId    string          `json:"intent_id"`
	ReferenceId string          `json:"reference_id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Metadata    map[string]any  `json:"metadata"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg *config.GatewayConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodPost, intentsPath, req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) GetIntent(ctx context.Context, intentId string) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodGet, intentsPath+"/"+intentId, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithField("path", path).Error("Gateway request failed: ", err)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	log.WithField("path", path).WithField("status", resp.StatusCode).Debugf("Gateway replied in %s", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// IsTransient reports whether the failure is worth retrying later: timeouts,
// transport errors, throttling and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return util.IsTransient(err)
}

// Package swish talks to the external payment initiation endpoint. It
// only starts payments; settlement arrives later through the provider's
// callback and is recorded elsewhere.
package swish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRejected marks an explicit failure response from the provider.
// It is definitive and must not be retried automatically.
var ErrRejected = errors.New("payment rejected")

// ErrUnavailable marks a transport failure or timeout. Safe to retry
// with backoff.
var ErrUnavailable = errors.New("payment endpoint unavailable")

// IsRejected reports whether err is a definitive provider rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// PaymentRequest is the initiation payload.
type PaymentRequest struct {
	Amount             string `json:"amount"`
	Message            string `json:"message"`
	CallbackIdentifier string `json:"payeePaymentReference"`
	PayeeAlias         string `json:"payeeAlias,omitempty"`
}

// PaymentResponse carries the provider reference for a started payment.
type PaymentResponse struct {
	Reference string `json:"id"`
	Status    string `json:"status"`
}

type rejection struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Client issues payment initiation requests.
type Client struct {
	baseURL    string
	payeeAlias string
	httpClient *http.Client
}

// NewClient builds a Client with the provided endpoint and timeout.
func NewClient(baseURL, payeeAlias string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		payeeAlias: payeeAlias,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreatePayment posts an initiation request. A transport error or
// timeout wraps ErrUnavailable; an explicit provider failure wraps
// ErrRejected with the provider message attached.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if req.PayeeAlias == "" {
		req.PayeeAlias = c.payeeAlias
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/paymentrequests", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		var rej rejection
		if err := json.Unmarshal(raw, &rej); err == nil && rej.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrRejected, rej.ErrorMessage, rej.ErrorCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	out := &PaymentResponse{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode payment response: %w", err)
		}
	}
	if out.Reference == "" {
		out.Reference = resp.Header.Get("Location")
	}
	return out, nil
}

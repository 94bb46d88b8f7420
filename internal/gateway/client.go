package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// StatusError is a non-2xx reply from the gateway.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Code)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Message)
}

// Backoff paces Client.Send retries. The wait before attempt n+1 is
// Base doubled n-1 times, raised to any Retry-After the gateway sent and
// capped at Max.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoff covers a serve that is still binding its listener.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Base: time.Second, Max: 10 * time.Second}
}

func (b Backoff) wait(attempt int, err error) time.Duration {
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > d {
		d = statusErr.RetryAfter
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// retryable reports whether a failed send may succeed if repeated: the
// gateway shed load, or it was not accepting connections yet.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Client talks to a running gateway. The CLI uses it so that one-off sends
// go through the serving process's single daemon session.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Backoff Backoff
}

// NewClient creates a Client for the gateway listening on addr (host:port or URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Backoff: DefaultBackoff(),
	}
}

// Send posts req to /send, retrying while the gateway is unreachable or
// rate limiting.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	for attempt := 1; ; attempt++ {
		err = c.post(ctx, "/send", body)
		if err == nil || attempt >= c.Backoff.Attempts || !retryable(err) {
			return err
		}
		timer := time.NewTimer(c.Backoff.wait(attempt, err))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// Health fetches /health and returns the decoded status document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return status, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil {
		body.Error = strings.TrimSpace(string(data))
	}
	statusErr := &StatusError{Code: resp.StatusCode, Message: body.Error}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		statusErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return statusErr
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
)

const maxResponseSize = 4 << 20

// ErrUnavailable marks a transient failure that survived every retry.
// Callers treat it as unknown status, never as an item failure.
var ErrUnavailable = errors.New("session service unavailable")

// ErrNotFound is returned when the service has no session with the given id.
var ErrNotFound = errors.New("session not found")

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

type Session struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State State  `json:"state"`
}

func (s Session) Ready() bool {
	return s.State == StateReady || s.State == StateRunning
}

type CreateRequest struct {
	Name    string `json:"name"`
	Cwd     string `json:"cwd"`
	Command string `json:"command"`
}

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient HTTPClient

	// Attempts bounds the requests made per call, the first one included.
	// Zero means 3.
	Attempts     uint
	RetryDelay   time.Duration
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

type Client struct {
	baseURL      string
	token        string
	client       HTTPClient
	attempts     uint
	retryDelay   time.Duration
	readyTimeout time.Duration
	pollInterval time.Duration

	healthOnce sync.Once
	healthErr  error
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("session service base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid session service url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Client{
		baseURL:      base,
		token:        strings.TrimSpace(cfg.Token),
		client:       client,
		attempts:     cfg.Attempts,
		retryDelay:   cfg.RetryDelay,
		readyTimeout: cfg.ReadyTimeout,
		pollInterval: cfg.PollInterval,
	}, nil
}

// Healthy probes the unauthenticated health endpoint once per client and
// caches the answer.
func (c *Client) Healthy(ctx context.Context) error {
	c.healthOnce.Do(func() {
		c.healthErr = c.withRetry(ctx, func() (bool, error) {
			status, _, err := c.do(ctx, http.MethodGet, "/health", nil, false)
			if err != nil {
				return true, err
			}
			if status != http.StatusOK {
				return status >= 500, fmt.Errorf("health check returned %d", status)
			}
			return false, nil
		})
	})
	return c.healthErr
}

func (c *Client) List(ctx context.Context) ([]Session, error) {
	var body []byte
	err := c.withRetry(ctx, func() (bool, error) {
		status, payload, err := c.do(ctx, http.MethodGet, "/api/sessions", nil, true)
		if err != nil {
			return true, err
		}
		if status != http.StatusOK {
			return status >= 500, statusError("list sessions", status, payload)
		}
		body = payload
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeSessions(body)
}

func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	var session Session
	err := c.withRetry(ctx, func() (bool, error) {
		status, payload, err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, true)
		if err != nil {
			return true, err
		}
		if status == http.StatusNotFound {
			return false, ErrNotFound
		}
		if status != http.StatusOK {
			return status >= 500, statusError("get session", status, payload)
		}
		return false, json.Unmarshal(payload, &session)
	})
	return session, err
}

// FindByName returns the session whose name matches exactly.
func (c *Client) FindByName(ctx context.Context, name string) (Session, error) {
	sessions, err := c.List(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, session := range sessions {
		if session.Name == name {
			return session, nil
		}
	}
	return Session{}, ErrNotFound
}

// Create starts a session and waits until the service reports it ready.
func (c *Client) Create(ctx context.Context, request CreateRequest) (Session, error) {
	if strings.TrimSpace(request.Name) == "" || strings.TrimSpace(request.Cwd) == "" {
		return Session{}, errors.New("session name and cwd are required")
	}
	var created Session
	err := c.withRetry(ctx, func() (bool, error) {
		status, payload, err := c.do(ctx, http.MethodPost, "/api/sessions", request, true)
		if err != nil {
			return true, err
		}
		if status != http.StatusOK && status != http.StatusCreated {
			return status >= 500, statusError("create session", status, payload)
		}
		return false, json.Unmarshal(payload, &created)
	})
	if err != nil {
		return Session{}, err
	}
	if created.ID == "" {
		return Session{}, errors.New("create session: response has no id")
	}
	if created.Ready() {
		return created, nil
	}
	return c.waitReady(ctx, created.ID)
}

func (c *Client) waitReady(ctx context.Context, id string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Session{}, fmt.Errorf("session %s not ready: %w", id, ctx.Err())
		case <-ticker.C:
		}
		session, err := c.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Session{}, fmt.Errorf("session %s exited before becoming ready", id)
			}
			continue
		}
		if session.Ready() {
			return session, nil
		}
		if session.State == StateExited {
			return Session{}, fmt.Errorf("session %s exited before becoming ready", id)
		}
	}
}

type sendRequest struct {
	Text    string `json:"text"`
	Execute bool   `json:"execute"`
}

// Send injects literal text; execute submits it as if Enter was pressed.
func (c *Client) Send(ctx context.Context, id string, text string, execute bool) error {
	return c.withRetry(ctx, func() (bool, error) {
		status, payload, err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/input", sendRequest{Text: text, Execute: execute}, true)
		if err != nil {
			return true, err
		}
		if status == http.StatusNotFound {
			return false, ErrNotFound
		}
		if status/100 != 2 {
			return status >= 500, statusError("send input", status, payload)
		}
		return false, nil
	})
}

// Delete terminates a session. A session that is already gone is success.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.withRetry(ctx, func() (bool, error) {
		status, payload, err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, true)
		if err != nil {
			return true, err
		}
		if status == http.StatusNotFound || status/100 == 2 {
			return false, nil
		}
		return status >= 500, statusError("delete session", status, payload)
	})
}

// withRetry runs attempt until it succeeds, returns a permanent error, or
// the retry budget is spent. Exhausted transient errors wrap ErrUnavailable.
func (c *Client) withRetry(ctx context.Context, attempt func() (transient bool, err error)) error {
	var permanent error
	err := retry.Retry(func(uint) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			permanent = ctxErr
			return nil
		}
		transient, err := attempt()
		if err != nil && !transient {
			permanent = err
			return nil
		}
		return err
	}, strategy.Limit(c.attempts), strategy.Backoff(backoff.Linear(c.retryDelay)))
	if permanent != nil {
		return permanent
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, payload any, auth bool) (int, []byte, error) {
	var requestBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("cannot encode request body: %w", err)
		}
		requestBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, requestBody)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeSessions(body []byte) ([]Session, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var wrapped struct {
			Sessions []Session `json:"sessions"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
		return wrapped.Sessions, nil
	}
	var sessions []Session
	if err := json.Unmarshal(trimmed, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func statusError(action string, status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Error != "" {
			message = apiErr.Error
		} else if apiErr.Message != "" {
			message = apiErr.Message
		}
	}
	if message == "" {
		return fmt.Errorf("%s: status %d", action, status)
	}
	return fmt.Errorf("%s: status %d: %s", action, status, message)
}

// IsUnavailable reports whether err is a transient service failure,
// including a refused connection on the first probe.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

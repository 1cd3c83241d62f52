package testerclient

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
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/google/uuid"
)

// Endpoint paths served by the tester service.
const (
	SessionPath      = "/session"
	JUnitVersionPath = "/junitVersion"
)

const (
	// TypeQuery tags the request envelope of a query session
	TypeQuery = "query"
	// RequestIDHeader carries the per-call correlation id
	RequestIDHeader = "X-Request-ID"
	// JUnitVersionKey is the setting changed by ChangeJUnitVersion
	JUnitVersionKey = "junit_version"
)

// HTTPClient is the subset of *http.Client used by the tester client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds client configuration
type Config struct {
	// Host is the loopback host of the service
	Host string
	// Port is the TCP port of the service
	Port int
	// ConnectTimeout bounds dialing the service
	ConnectTimeout time.Duration
	// RequestTimeout bounds short request/acknowledge calls
	RequestTimeout time.Duration
	// IdleTimeout bounds the silence between two frames of a session; 0 disables it
	IdleTimeout time.Duration
	// UserAgent is sent with every request
	UserAgent string
	// HTTPClient overrides the transport, mainly for tests
	HTTPClient HTTPClient
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           consts.DefaultServicePort,
		ConnectTimeout: consts.Timeout10Seconds,
		RequestTimeout: consts.Timeout30Seconds,
		IdleTimeout:    consts.DefaultIdleTimeout,
		UserAgent:      "intentest/" + consts.Version,
	}
}

// Client talks to one tester service. A Client may run any number of
// concurrent sessions; each session owns its own state machine.
type Client struct {
	config     *Config
	httpClient HTTPClient
	baseURL    string

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewClient creates a client for the service listening on localhost:port.
func NewClient(port int) (*Client, error) {
	config := DefaultConfig()
	config.Port = port
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a client with custom configuration
func NewClientWithConfig(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid service port %d", config.Port)
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.UserAgent == "" {
		config.UserAgent = "intentest/" + consts.Version
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		dialer := &net.Dialer{Timeout: config.ConnectTimeout}
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		baseURL:    "http://" + net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		sessions:   make(map[string]*Session),
	}, nil
}

// BaseURL returns the root URL of the service.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ChangeJUnitVersion updates the JUnit version used by the service.
func (c *Client) ChangeJUnitVersion(ctx context.Context, version string) error {
	return c.SetConfigValue(ctx, JUnitVersionKey, version)
}

// SetConfigValue sends {"type": "change_<key>", "data": value} to the endpoint
// derived from key and waits for a success status. The response body is
// ignored.
func (c *Client) SetConfigValue(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return errors.New("config key is required")
	}
	if c.isClosed() {
		return ErrClientClosed
	}

	path := ConfigPath(key)
	env, err := NewEnvelope("change_"+key, value)
	if err != nil {
		return err
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	requestID := uuid.New().String()
	req, err := c.newRequest(ctx, path, env, requestID)
	if err != nil {
		return err
	}

	logger.Debug("testerclient: POST %s key=%s request_id=%s", path, key, requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{Op: "POST " + path, Err: err}
		logger.Error("testerclient: %v", terr)
		return terr
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		serr := statusError(path, resp)
		logger.Error("testerclient: %v", serr)
		return serr
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, consts.BufferSize64KB))
	logger.Info("testerclient: %s set", key)
	return nil
}

// Close cancels every running session. Subsequent calls fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}

	if closer, ok := c.httpClient.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return nil
}

// ActiveSessions returns the number of sessions that have not completed yet.
func (c *Client) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) track(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.sessions[s.id] = s
	return true
}

func (c *Client) untrack(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, path string, env *Envelope, requestID string) (*http.Request, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", env.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set(RequestIDHeader, requestID)
	return req, nil
}

// ConfigPath maps a snake_case setting key to its endpoint path, e.g.
// junit_version -> /junitVersion.
func ConfigPath(key string) string {
	parts := strings.Split(strings.Trim(key, "_"), "_")
	var sb strings.Builder
	sb.WriteByte('/')
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			sb.WriteString(part)
			continue
		}
		r, size := utf8.DecodeRuneInString(part)
		sb.WriteRune(unicode.ToUpper(r))
		sb.WriteString(part[size:])
	}
	return sb.String()
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func statusError(path string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, consts.BufferSize1KB))
	return &StatusError{
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

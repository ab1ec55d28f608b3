package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running botvisor daemon over its HTTP API.
type Client struct {
	r      *resty.Client
	logger *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Token is sent as a Bearer token; otherwise Username/Password are sent
	// as HTTP Basic credentials when set.
	Token    string
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
}

const defaultBaseURL = "http://localhost:3000/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: defaultBaseURL, Timeout: 10 * time.Second}
}

// New creates a client. TLS problems are reported through the logger and
// leave the default transport in place.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")
	switch {
	case config.Token != "":
		r.SetAuthToken(config.Token)
	case config.Username != "":
		r.SetBasicAuth(config.Username, config.Password)
	}
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			r.SetTLSClientConfig(tlsConfig)
		}
	}
	return &Client{r: r, logger: config.Logger}
}

// IsReachable checks if the daemon answers on the bots endpoint. An
// authentication failure still counts as reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.r.R().SetContext(ctx).Get("/bots")
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// List returns every bot with its run state.
func (c *Client) List(ctx context.Context) ([]BotStatus, error) {
	var out []BotStatus
	resp, err := c.r.R().SetContext(ctx).SetResult(&out).Get("/bots")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// Add registers a bot definition and returns it as stored.
func (c *Client) Add(ctx context.Context, b Bot) (Bot, error) {
	var out addResponse
	resp, err := c.r.R().SetContext(ctx).SetBody(b).SetResult(&out).Post("/bots")
	if err := c.check(resp, err); err != nil {
		return Bot{}, err
	}
	return out.Bot, nil
}

// Remove deletes a bot, stopping it first if it is running.
func (c *Client) Remove(ctx context.Context, name string) error {
	resp, err := c.r.R().SetContext(ctx).SetPathParam("name", name).Delete("/bots/{name}")
	return c.check(resp, err)
}

// Start launches a registered bot.
func (c *Client) Start(ctx context.Context, name string) error {
	resp, err := c.r.R().SetContext(ctx).SetPathParam("name", name).Post("/bots/{name}/start")
	return c.check(resp, err)
}

// Stop sends the termination signal to a running bot.
func (c *Client) Stop(ctx context.Context, name string) error {
	resp, err := c.r.R().SetContext(ctx).SetPathParam("name", name).Post("/bots/{name}/stop")
	return c.check(resp, err)
}

// Logs returns the tail of a bot's log; n <= 0 uses the daemon's default.
func (c *Client) Logs(ctx context.Context, name string, n int) (string, error) {
	var out logsResponse
	req := c.r.R().SetContext(ctx).SetPathParam("name", name).SetResult(&out)
	if n > 0 {
		req.SetQueryParam("bytes", strconv.Itoa(n))
	}
	resp, err := req.Get("/bots/{name}/logs")
	if err := c.check(resp, err); err != nil {
		return "", err
	}
	return out.Logs, nil
}

// Login exchanges credentials for a token (daemons with auth enabled).
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var out LoginResult
	resp, err := c.r.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/auth/login")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(string(resp.Body()))}
	var er ErrorResponse
	if jerr := json.Unmarshal(resp.Body(), &er); jerr == nil && er.Error != "" {
		apiErr.Message = er.Error
		apiErr.Details = er.Details
	}
	c.logger.Debug("API request failed", "error", apiErr.Message, "status", apiErr.StatusCode)
	return apiErr
}

// StatusCode returns the HTTP status of an *APIError, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		caCert, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("parse CA certificate: no PEM certificates found")
		}
		tlsConfig.RootCAs = pool
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Platform client for reddit's OAuth API, implementing the interfaces in automod/platform.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

var ErrNotFound = platform.ErrNotFound

const (
	DefaultHost     = "https://oauth.reddit.com"
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// long-lived refresh token of the bot account
	RefreshToken string
	UserAgent    string
	Host         string
	TokenURL     string
	// requests per second; reddit allows 100 per minute for OAuth clients
	RateLimit float64
	// base client for API and token requests; defaults to util.RobustHTTPClient
	HTTPClient *http.Client
}

type Client struct {
	Host    string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

var (
	_ platform.Client     = (*Client)(nil)
	_ platform.WikiClient = (*Client)(nil)
	_ platform.Lister     = (*Client)(nil)
)

// Builds an authenticated client. Access tokens are fetched (and refreshed) lazily, using ctx for the token requests, so ctx should live as long as the client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("reddit client id and refresh token are required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("reddit user agent is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100.0 / 60.0
	}
	base := cfg.HTTPClient
	if base == nil {
		base = util.RobustHTTPClient(logger)
	}
	timeout := base.Timeout
	base = &http.Client{
		Transport: otelhttp.NewTransport(&util.UserAgentTransport{Base: base.Transport, UserAgent: cfg.UserAgent}),
		Timeout:   timeout,
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	octx := context.WithValue(ctx, oauth2.HTTPClient, base)
	httpc := oauth2.NewClient(octx, oc.TokenSource(octx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	httpc.Timeout = timeout

	return &Client{
		Host:    strings.TrimSuffix(cfg.Host, "/"),
		HTTP:    httpc,
		Limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 5),
		Logger:  logger.With("component", "reddit"),
	}, nil
}

// Error returned for failed API requests.
type APIError struct {
	Method string
	Path   string
	// zero if no response was received
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("reddit %s %s: %s", e.Method, e.Path, msg)
	}
	return fmt.Sprintf("reddit %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Rate limiting, server errors, and network failures are worth retrying later.
func (e *APIError) Transient() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func IsTransient(err error) bool {
	return platform.IsTransient(err)
}

// Performs a request against the API host and decodes a JSON response into out (if not nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return &APIError{Method: method, Path: path, Err: err}
		}
	}
	u := c.Host + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("raw_json", "1")
	u += "?" + query.Encode()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		apiErr := &APIError{Method: method, Path: path, Err: err}
		// token endpoint rejections (eg, revoked refresh token) are not worth retrying
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			apiErr.StatusCode = re.Response.StatusCode
		}
		return apiErr
	}
	defer resp.Body.Close()
	c.Logger.Debug("reddit request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = ErrNotFound
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: "invalid JSON response", Err: err}
	}
	return nil
}

// Like do, for form POSTs with api_type=json, which report failures inside a 200 response.
func (c *Client) post(ctx context.Context, path string, form url.Values, out *jsonResponse) error {
	form.Set("api_type", "json")
	var resp jsonResponse
	if out == nil {
		out = &resp
	}
	if err := c.do(ctx, http.MethodPost, path, nil, form, out); err != nil {
		return err
	}
	if len(out.JSON.Errors) > 0 {
		apiErr := &APIError{Method: http.MethodPost, Path: path, StatusCode: http.StatusOK, Message: out.JSON.errorMessage()}
		if out.JSON.errorCode() == "RATELIMIT" {
			apiErr.StatusCode = http.StatusTooManyRequests
		}
		return apiErr
	}
	return nil
}

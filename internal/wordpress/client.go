// Package wordpress publishes generated pages to a WordPress site running
// the Bricks builder, through the core REST API.
package wordpress

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
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rebrick/rebrick/internal/model"
)

const (
	// DefaultTimeout is the total request timeout.
	DefaultTimeout = 15 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second

	// BricksContentMetaKey holds the flattened element list.
	BricksContentMetaKey = "_bricks_page_content_2"
	// BricksEditorModeMetaKey switches the page to the Bricks editor.
	BricksEditorModeMetaKey = "_bricks_editor_mode"

	pagesPath = "/wp-json/wp/v2/pages"
	userAgent = "Rebrick-Publisher/1.0"

	maxErrorBody = 4096
)

// ErrUnknownSite is returned when a job targets a site the client holds
// no credentials for.
var ErrUnknownSite = errors.New("unknown wordpress site")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("wordpress: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("wordpress: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// siteError marks configuration problems that no retry can fix.
type siteError struct {
	err error
}

func (e *siteError) Error() string   { return e.err.Error() }
func (e *siteError) Unwrap() error   { return e.err }
func (e *siteError) Retryable() bool { return false }

// Config configures a Client.
type Config struct {
	BaseURL     string
	Username    string
	AppPassword string
	Timeout     time.Duration
	RPS         float64
	Burst       int
}

// Client talks to one WordPress site. The site id of a deployment job is
// the site's base URL; jobs for other hosts are rejected.
type Client struct {
	base        *url.URL
	username    string
	appPassword string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid wordpress base url %q", cfg.BaseURL)
	}
	if cfg.Username == "" || cfg.AppPassword == "" {
		return nil, errors.New("wordpress username and application password are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps, burst := cfg.RPS, cfg.Burst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		base:        base,
		username:    cfg.Username,
		appPassword: cfg.AppPassword,
		http:        newHTTPClient(timeout),
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// newHTTPClient has explicit timeouts and does not follow redirects, so
// credentials are never replayed to another host.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: TLSHandshakeTimeout,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SiteID returns the id deployment jobs use for this site.
func (c *Client) SiteID() string {
	return c.base.String()
}

type pageRequest struct {
	Title   string         `json:"title"`
	Slug    string         `json:"slug"`
	Status  string         `json:"status"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta"`
}

type pageResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

// PublishPage creates a published page carrying the Bricks element tree.
func (c *Client) PublishPage(ctx context.Context, siteID string, page *model.BricksPageStructure) (model.DeployedPage, error) {
	if err := c.checkSite(siteID); err != nil {
		return model.DeployedPage{}, err
	}

	body := pageRequest{
		Title:  page.Title(),
		Slug:   page.Slug(),
		Status: "publish",
		Meta: map[string]any{
			BricksContentMetaKey:    page.Flatten(),
			BricksEditorModeMetaKey: "bricks",
		},
	}

	var resp pageResponse
	if err := c.do(ctx, http.MethodPost, pagesPath, body, &resp); err != nil {
		return model.DeployedPage{}, err
	}
	if resp.ID == 0 {
		return model.DeployedPage{}, errors.New("wordpress: response has no page id")
	}

	return model.DeployedPage{
		PageType:        page.PageType(),
		WordPressPageID: resp.ID,
		URL:             resp.Link,
		EditURL:         editURL(resp.Link),
		DeployedAt:      time.Now().UTC(),
	}, nil
}

// DeletePage permanently removes a page, bypassing the trash.
func (c *Client) DeletePage(ctx context.Context, siteID string, wordPressPageID int64) error {
	if err := c.checkSite(siteID); err != nil {
		return err
	}
	path := pagesPath + "/" + strconv.FormatInt(wordPressPageID, 10) + "?force=true"
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		// Already gone.
		return nil
	}
	return err
}

// Ping checks that the REST API answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/wp-json/", nil, nil)
}

func (c *Client) checkSite(siteID string) error {
	u, err := url.Parse(strings.TrimRight(siteID, "/"))
	if err != nil || !strings.EqualFold(u.Host, c.base.Host) {
		return &siteError{err: fmt.Errorf("%w: %q", ErrUnknownSite, siteID)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.appPassword)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}

// editURL opens the page in the Bricks builder.
func editURL(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("bricks", "run")
	u.RawQuery = q.Encode()
	return u.String()
}

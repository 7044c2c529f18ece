// Package tbc implements gateway.Client for TBC Pay (tpay) checkout.
package tbc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xraph/tollgate/gateway"
)

// DefaultBaseURL is the production tpay endpoint.
const DefaultBaseURL = "https://api.tbcbank.ge"

const (
	tokenPath    = "/v1/tpay/access-token"
	paymentsPath = "/v1/tpay/payments"

	// tokenExpiryDelta refreshes the access token this long before it expires.
	tokenExpiryDelta = 60 * time.Second

	maxDescriptionLen = 30
)

var _ gateway.Client = (*Client)(nil)

// Config holds tpay credentials.
type Config struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	// Language is sent with every payment ("KA" or "EN"). Defaults to KA.
	Language string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to the tpay REST API. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenCache
	logger *slog.Logger
}

// New returns a Client. APIKey, ClientID and ClientSecret are required.
func New(cfg Config, opts ...Option) (*Client, error) {
	switch {
	case cfg.APIKey == "":
		return nil, errors.New("tbc: api key is required")
	case cfg.ClientID == "":
		return nil, errors.New("tbc: client id is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("tbc: client secret is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "KA"
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// The token endpoint wants the apikey header as well as the form
	// credentials, so token requests go through a client that adds it.
	next := c.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	tokenHTTP := &http.Client{
		Timeout:   c.http.Timeout,
		Transport: &apiKeyTransport{key: cfg.APIKey, next: next},
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	c.tokens = newTokenCache(cc, tokenHTTP)

	return c, nil
}

// ──────────────────────────────────────────────────
// gateway.Client
// ──────────────────────────────────────────────────

type amount struct {
	Currency string      `json:"currency"`
	Total    json.Number `json:"total"`
	SubTotal json.Number `json:"subTotal"`
	Tax      json.Number `json:"tax"`
	Shipping json.Number `json:"shipping"`
}

type createPaymentBody struct {
	Amount            amount `json:"amount"`
	ReturnURL         string `json:"returnurl"`
	CallbackURL       string `json:"callbackUrl,omitempty"`
	UserIPAddress     string `json:"userIpAddress,omitempty"`
	PreAuth           bool   `json:"preAuth"`
	Language          string `json:"language"`
	MerchantPaymentID string `json:"merchantPaymentId,omitempty"`
	Description       string `json:"description,omitempty"`
}

type link struct {
	URI    string `json:"uri"`
	Method string `json:"method"`
	Rel    string `json:"rel"`
}

type paymentResponse struct {
	PayID  string `json:"payId"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

// CreatePayment opens a hosted checkout and returns its approval url.
func (c *Client) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.CreatePaymentResult, error) {
	total := json.Number(req.Amount.Decimal())
	lang := req.Language
	if lang == "" {
		lang = c.cfg.Language
	}
	body := createPaymentBody{
		Amount: amount{
			Currency: "GEL",
			Total:    total,
			SubTotal: total,
			Tax:      "0",
			Shipping: "0",
		},
		ReturnURL:         req.ReturnURL,
		CallbackURL:       req.CallbackURL,
		UserIPAddress:     req.UserIPAddress,
		Language:          lang,
		MerchantPaymentID: req.MerchantPaymentID,
		Description:       truncate(req.Description, maxDescriptionLen),
	}

	raw, err := c.do(ctx, http.MethodPost, paymentsPath, body)
	if err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode create payment: %v", gateway.ErrBadResponse, err)
	}
	approval := approvalURL(resp.Links)
	if resp.PayID == "" || resp.Status == "" || approval == "" {
		return nil, fmt.Errorf("%w: create payment response missing payId, status or approval_url", gateway.ErrBadResponse)
	}

	c.logger.Debug("tbc payment created", "pay_id", resp.PayID, "status", resp.Status)

	return &gateway.CreatePaymentResult{
		ExternalID:  resp.PayID,
		Status:      resp.Status,
		ApprovalURL: approval,
	}, nil
}

// GetPaymentStatus fetches the current status of payID.
func (c *Client) GetPaymentStatus(ctx context.Context, payID string) (*gateway.PaymentStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, paymentsPath+"/"+url.PathEscape(payID), nil)
	if err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode payment details: %v", gateway.ErrBadResponse, err)
	}
	if resp.PayID == "" {
		resp.PayID = payID
	}
	if resp.Status == "" {
		resp.Status = "Unknown"
	}

	return &gateway.PaymentStatus{
		ExternalID: resp.PayID,
		Status:     resp.Status,
		Raw:        raw,
	}, nil
}

// ──────────────────────────────────────────────────
// HTTP plumbing
// ──────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	tok, err := c.tokens.token(ctx)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("tbc: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("tbc: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("apikey", c.cfg.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", gateway.ErrUnavailable, method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", gateway.ErrUnavailable, method, path, err)
	}

	switch {
	case res.StatusCode >= 500:
		c.logger.Warn("tbc request failed", "method", method, "path", path, "status", res.StatusCode)
		return nil, fmt.Errorf("%w: %s %s: status %d", gateway.ErrUnavailable, method, path, res.StatusCode)
	case res.StatusCode >= 400:
		c.logger.Warn("tbc request rejected", "method", method, "path", path, "status", res.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("%w: %s %s: status %d", gateway.ErrBadResponse, method, path, res.StatusCode)
	}

	return raw, nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return fmt.Errorf("%w: access token: %v", gateway.ErrBadResponse, err)
	}
	return fmt.Errorf("%w: access token: %w", gateway.ErrUnavailable, err)
}

// tokenCache holds the current access token and refreshes it on the
// caller's context, so a gateway timeout also bounds the token request.
// One refresh runs at a time; waiters give up when their context ends.
type tokenCache struct {
	cfg  *clientcredentials.Config
	http *http.Client
	sem  chan struct{}

	mu  sync.Mutex
	tok *oauth2.Token
}

func newTokenCache(cfg *clientcredentials.Config, hc *http.Client) *tokenCache {
	return &tokenCache{cfg: cfg, http: hc, sem: make(chan struct{}, 1)}
}

func (tc *tokenCache) cached() *oauth2.Token {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.tok == nil || tc.tok.AccessToken == "" {
		return nil
	}
	if !tc.tok.Expiry.IsZero() && time.Until(tc.tok.Expiry) <= tokenExpiryDelta {
		return nil
	}
	return tc.tok
}

func (tc *tokenCache) token(ctx context.Context) (*oauth2.Token, error) {
	if tok := tc.cached(); tok != nil {
		return tok, nil
	}

	select {
	case tc.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-tc.sem }()

	// Another caller may have refreshed while this one waited.
	if tok := tc.cached(); tok != nil {
		return tok, nil
	}

	tok, err := tc.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, tc.http))
	if err != nil {
		return nil, err
	}
	tc.mu.Lock()
	tc.tok = tok
	tc.mu.Unlock()
	return tok, nil
}

type apiKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("apikey", t.key)
	return t.next.RoundTrip(r)
}

func approvalURL(links []link) string {
	for _, l := range links {
		if strings.EqualFold(l.Rel, "approval_url") {
			return l.URI
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

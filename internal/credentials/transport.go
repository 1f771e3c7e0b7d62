package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TokenRequest asks a Transport for a new token. An empty RefreshToken
// requests a client_credentials grant.
type TokenRequest struct {
	OwnerID      string
	RefreshToken string
}

// TokenResponse is a retrieved token. Parameters beyond the standard ones
// are kept in Metadata.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Metadata     map[string]string
}

// Transport retrieves tokens from an authorization server.
type Transport interface {
	FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req TokenRequest) (*TokenResponse, error)

// FetchToken calls f.
func (f TransportFunc) FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	return f(ctx, req)
}

// HTTPRequest is a transport-agnostic HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse is a transport-agnostic HTTP response.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HTTPClient executes HTTP requests.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// DefaultHTTPClient wraps net/http.Client to implement HTTPClient.
type DefaultHTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a DefaultHTTPClient with the given timeout.
func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes req and reads the whole response body.
func (c *DefaultHTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

// TransportConfig configures the OAuth2 token endpoint client.
type TransportConfig struct {
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scope        string        `mapstructure:"scope"`
	RedirectURI  string        `mapstructure:"redirect_uri"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// HTTPTransport fetches tokens from an OAuth2 token endpoint using
// form-encoded refresh_token or client_credentials grants.
type HTTPTransport struct {
	cfg    TransportConfig
	client HTTPClient
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(cfg TransportConfig, client HTTPClient) *HTTPTransport {
	return &HTTPTransport{cfg: cfg, client: client}
}

var standardTokenParams = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"expires_in":    true,
	"token_type":    true,
}

// FetchToken posts the grant and parses the token response.
func (t *HTTPTransport) FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", t.cfg.ClientID)
	form.Set("client_secret", t.cfg.ClientSecret)
	if req.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", req.RefreshToken)
		if t.cfg.RedirectURI != "" {
			form.Set("redirect_uri", t.cfg.RedirectURI)
		}
	} else {
		form.Set("grant_type", "client_credentials")
		if t.cfg.Scope != "" {
			form.Set("scope", t.cfg.Scope)
		}
	}

	resp, err := t.client.Do(ctx, &HTTPRequest{
		Method: http.MethodPost,
		URL:    t.cfg.TokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	out := &TokenResponse{Metadata: make(map[string]string)}
	out.AccessToken, _ = raw["access_token"].(string)
	out.RefreshToken, _ = raw["refresh_token"].(string)
	if out.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if secs, ok := seconds(raw["expires_in"]); ok {
		out.ExpiresIn = time.Duration(secs) * time.Second
	}
	for k, v := range raw {
		if standardTokenParams[k] {
			continue
		}
		out.Metadata[k] = fmt.Sprint(v)
	}
	return out, nil
}

// seconds accepts expires_in as a JSON number or a numeric string.
func seconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

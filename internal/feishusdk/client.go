package feishusdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/httprunner/ActivityUploader/internal/errs"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkauth "github.com/larksuite/oapi-sdk-go/v3/service/auth/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL   = "https://open.feishu.cn"
	defaultTransport = TransportHTTP

	TransportHTTP = "http"
	TransportSDK  = "sdk"

	EnvBaseURL   = "FEISHU_BASE_URL"
	EnvTransport = "FEISHU_TRANSPORT"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	Transport  string
	HTTPClient *http.Client
}

// Client talks to the Feishu open platform. It holds no credentials: every
// flow exchanges its own tenant access token through Authorize.
type Client struct {
	baseURL    string
	transport  string
	httpClient *http.Client

	// used for mock test
	bitableAPI        bitableAppTableRecordAPI
	doJSONRequestFunc func(ctx context.Context, method, path, token string, payload any) (*http.Response, []byte, error)
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client timeout: a hung upstream is bounded by the caller's context.
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		transport:  normalizeTransport(opts.Transport),
		httpClient: httpClient,
	}
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Optional variables:
//   - FEISHU_BASE_URL (defaults to https://open.feishu.cn)
//   - FEISHU_TRANSPORT (http/sdk, defaults to http)
func NewClientFromEnv() *Client {
	return NewClient(Options{
		BaseURL:   env.String(EnvBaseURL, ""),
		Transport: env.String(EnvTransport, ""),
	})
}

func normalizeTransport(raw string) string {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case TransportSDK, TransportHTTP:
		return mode
	default:
		return defaultTransport
	}
}

// Transport reports the active record transport (http or sdk).
func (c *Client) Transport() string {
	return c.transport
}

func (c *Client) useSDK() bool {
	return c.transport == TransportSDK
}

func (c *Client) larkClient(appID, appSecret string) *lark.Client {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
		lark.WithEnableTokenCache(false),
		lark.WithHttpClient(c.httpClient),
	}
	if c.baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(c.baseURL))
	}
	return lark.NewClient(appID, appSecret, opts...)
}

// ExchangeToken trades an app id/secret pair for a tenant_access_token.
// The token is returned to the caller and never cached.
func (c *Client) ExchangeToken(ctx context.Context, appID, appSecret string) (string, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return "", errs.New(errs.Auth, "missing app id")
	}

	body := larkauth.NewInternalTenantAccessTokenReqBodyBuilder().
		AppId(appID).
		AppSecret(appSecret).
		Build()
	req := larkauth.NewInternalTenantAccessTokenReqBuilder().
		Body(body).
		Build()

	resp, err := c.larkClient(appID, appSecret).Auth.V3.TenantAccessToken.Internal(ctx, req)
	if err != nil {
		return "", errs.Wrap(errs.Auth, err, "request tenant access token failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", errs.New(errs.Auth, "empty response when fetching tenant access token")
	}
	if resp.ApiResp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status", resp.ApiResp.StatusCode).
			Str("body", errs.Truncate(string(resp.ApiResp.RawBody), 256)).
			Msg("feishu: tenant access token request rejected")
		return "", errs.New(errs.Auth, "fetch tenant access token failed")
	}

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.Unmarshal(resp.ApiResp.RawBody, &parsed); err != nil {
		return "", errs.Wrap(errs.Transport, err, "decode tenant access token response")
	}
	if parsed.TenantAccessToken == "" {
		log.Warn().Int("code", parsed.Code).Str("msg", parsed.Msg).Msg("feishu: tenant access token missing in response")
		return "", errs.New(errs.Auth, "invalid tenant access token")
	}
	return parsed.TenantAccessToken, nil
}

// Authorize exchanges a fresh token and returns a Session bound to it.
func (c *Client) Authorize(ctx context.Context, appID, appSecret string) (*Session, error) {
	token, err := c.ExchangeToken(ctx, appID, appSecret)
	if err != nil {
		return nil, err
	}
	return &Session{client: c, appID: strings.TrimSpace(appID), appSecret: appSecret, token: token}, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, path, token string, payload any) (*http.Response, []byte, error) {
	if c.doJSONRequestFunc != nil {
		return c.doJSONRequestFunc(ctx, method, path, token, payload)
	}
	return c.doJSONRequestInternal(ctx, method, path, token, payload)
}

// doJSONRequestInternal only fails on transport problems; callers inspect the
// status code so upstream error bodies can be surfaced.
func (c *Client) doJSONRequestInternal(ctx context.Context, method, path, token string, payload any) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "feishu: marshal request payload")
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "feishu: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "feishu: execute request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, errors.Wrap(err, "feishu: read response")
	}
	log.Debug().
		Str("method", method).
		Str("path", strings.SplitN(path, "?", 2)[0]).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("feishu request done")
	return resp, rawBody, nil
}

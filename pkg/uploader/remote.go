package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const remoteTextPreview = 100

// RemoteBackend drives a running server through its /api proxy routes, the
// same calls the browser page makes.
type RemoteBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteBackend targets the server at baseURL (for example
// http://localhost:3000).
func NewRemoteBackend(baseURL string) *RemoteBackend {
	return &RemoteBackend{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
}

// WithHTTPClient swaps the client used for every call.
func (b *RemoteBackend) WithHTTPClient(client *http.Client) *RemoteBackend {
	if client != nil {
		b.httpClient = client
	}
	return b
}

// Config fetches /api/config. A redacted app secret keeps its marker so the
// Feishu write is still attempted; the marker is never sent back, which makes
// the server fall back to its own environment.
func (b *RemoteBackend) Config(ctx context.Context) (config.RemoteConfig, error) {
	var cfg config.RemoteConfig
	if err := b.call(ctx, http.MethodGet, "/api/config", nil, &cfg, errs.Transport, "load config failed"); err != nil {
		return config.RemoteConfig{}, err
	}
	if config.IsRedacted(cfg.GitHub.Token) {
		cfg.GitHub.Token = ""
	}
	return cfg, nil
}

func (b *RemoteBackend) Publish(ctx context.Context, path, fileName string, data []byte) (string, error) {
	payload := map[string]string{
		"file_name":    fileName,
		"file_content": base64.StdEncoding.EncodeToString(data),
		"path":         path,
	}
	var out struct {
		DownloadURL string `json:"download_url"`
	}
	if err := b.call(ctx, http.MethodPost, "/api/github/upload", payload, &out, errs.Publish, "Upload to GitHub failed"); err != nil {
		return "", err
	}
	return out.DownloadURL, nil
}

// Authorize binds the credentials without a network call: every proxy route
// exchanges its own token server side.
func (b *RemoteBackend) Authorize(ctx context.Context, feishu config.Feishu) (RecordStore, error) {
	return &remoteStore{backend: b, creds: feishu}, nil
}

type remoteStore struct {
	backend *RemoteBackend
	creds   config.Feishu
}

func (s *remoteStore) base() map[string]any {
	secret := s.creds.AppSecret
	if config.IsRedacted(secret) {
		secret = ""
	}
	return map[string]any{
		"app_id":            s.creds.AppID,
		"app_secret":        secret,
		"bitable_app_token": s.creds.BitableAppToken,
		"bitable_table_id":  s.creds.BitableTableID,
	}
}

func (s *remoteStore) FindRecord(ctx context.Context, fieldName, value string) (string, bool, error) {
	payload := s.base()
	payload["name_field_name"] = fieldName
	payload["activity_name"] = value
	var out struct {
		RecordID *string `json:"record_id"`
	}
	if err := s.backend.call(ctx, http.MethodPost, "/api/feishu/records/search", payload, &out, errs.Query, "search Feishu record failed"); err != nil {
		return "", false, err
	}
	if out.RecordID == nil || *out.RecordID == "" {
		return "", false, nil
	}
	return *out.RecordID, true, nil
}

func (s *remoteStore) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	payload := s.base()
	payload["fields"] = fields
	var out struct {
		Data struct {
			Record struct {
				RecordID string `json:"record_id"`
			} `json:"record"`
		} `json:"data"`
	}
	if err := s.backend.call(ctx, http.MethodPost, "/api/feishu/records", payload, &out, errs.Write, "create Feishu record failed"); err != nil {
		return "", err
	}
	return out.Data.Record.RecordID, nil
}

func (s *remoteStore) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	payload := s.base()
	payload["fields"] = fields
	return s.backend.call(ctx, http.MethodPut, "/api/feishu/records/"+url.PathEscape(recordID), payload, nil, errs.Write, "update Feishu record failed")
}

// call sends payload as JSON and decodes the reply into out. Replies that are
// not JSON become Transport errors; non-2xx replies become kind errors
// carrying the server's {"error": ...} message.
func (b *RemoteBackend) call(ctx context.Context, method, path string, payload, out any, kind errs.Kind, fallback string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal request payload")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return errs.Wrap(errs.Transport, err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(kind, err, fallback)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Transport, err, "read response")
	}

	if !json.Valid(raw) {
		log.Error().Str("path", path).Int("status", resp.StatusCode).
			Str("body", errs.Truncate(string(raw), 256)).Msg("server returned non-json response")
		return nonJSONError(string(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &failure)
		msg := strings.TrimSpace(failure.Error)
		if msg == "" {
			msg = fallback
		}
		if resp.StatusCode == http.StatusBadRequest {
			return errs.New(errs.Validation, msg)
		}
		return errs.New(kind, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.Transport, err, "decode response")
	}
	return nil
}

func nonJSONError(text string) error {
	if strings.Contains(text, "Request Entity Too Large") || strings.Contains(text, "FUNCTION_PAYLOAD_LIMIT_EXCEEDED") {
		return errs.New(errs.Transport, "image too large for the server even after compression, try a smaller image")
	}
	return errs.New(errs.Transport, "unexpected server response: "+errs.Truncate(text, remoteTextPreview))
}

package feishusdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/httprunner/ActivityUploader/internal/errs"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/rs/zerolog/log"
)

// SearchPageSize caps the record lookup page.
const SearchPageSize = 100

// BitableRef identifies a Bitable table.
type BitableRef struct {
	AppToken string
	TableID  string
}

func (ref BitableRef) recordsPath() string {
	return fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records",
		url.PathEscape(ref.AppToken), url.PathEscape(ref.TableID))
}

func (ref BitableRef) require() error {
	if strings.TrimSpace(ref.AppToken) == "" {
		return errs.New(errs.Validation, "bitable app token is empty")
	}
	if strings.TrimSpace(ref.TableID) == "" {
		return errs.New(errs.Validation, "bitable table id is empty")
	}
	return nil
}

// RecordResult is the outcome of a record write: the record id plus the raw
// upstream body so proxy handlers can pass it through untouched.
type RecordResult struct {
	RecordID string
	Raw      json.RawMessage
}

type bitableAppTableRecordAPI interface {
	Search(ctx context.Context, appToken, tableID string, pageSize int, body *larkbitable.SearchAppTableRecordReqBody, options ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error)
	Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
	Update(ctx context.Context, appToken, tableID, recordID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error)
}

type larkAppTableRecordService interface {
	Search(ctx context.Context, req *larkbitable.SearchAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error)
	Create(ctx context.Context, req *larkbitable.CreateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
	Update(ctx context.Context, req *larkbitable.UpdateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error)
}

type sdkBitableAppTableRecordAPI struct {
	svc larkAppTableRecordService
}

func (a sdkBitableAppTableRecordAPI) Search(ctx context.Context, appToken, tableID string, pageSize int, body *larkbitable.SearchAppTableRecordReqBody, options ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error) {
	builder := larkbitable.NewSearchAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		PageSize(pageSize)
	if body != nil {
		builder.Body(body)
	}
	return a.svc.Search(ctx, builder.Build(), options...)
}

func (a sdkBitableAppTableRecordAPI) Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error) {
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		AppTableRecord(record).
		Build()
	return a.svc.Create(ctx, req, options...)
}

func (a sdkBitableAppTableRecordAPI) Update(ctx context.Context, appToken, tableID, recordID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error) {
	req := larkbitable.NewUpdateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		RecordId(recordID).
		AppTableRecord(record).
		Build()
	return a.svc.Update(ctx, req, options...)
}

// Session is a token-bound view of the Bitable API for one flow.
type Session struct {
	client    *Client
	appID     string
	appSecret string
	token     string
}

// NewSession binds an already exchanged token. The app credentials are only
// needed by the sdk transport.
func (c *Client) NewSession(appID, appSecret, token string) *Session {
	return &Session{client: c, appID: strings.TrimSpace(appID), appSecret: appSecret, token: token}
}

// Token returns the tenant access token the session was built with.
func (s *Session) Token() string {
	return s.token
}

func (s *Session) bitableSDK() (bitableAppTableRecordAPI, larkcore.RequestOptionFunc) {
	api := s.client.bitableAPI
	if api == nil {
		api = sdkBitableAppTableRecordAPI{svc: s.client.larkClient(s.appID, s.appSecret).Bitable.V1.AppTableRecord}
	}
	return api, larkcore.WithTenantAccessToken(s.token)
}

// upstreamError reads Feishu's {code,msg} error body; fallback is used when
// the body carries no message.
func upstreamError(kind errs.Kind, action string, status int, raw []byte, fallback string) error {
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(raw, &body)
	log.Warn().
		Str("action", action).
		Int("status", status).
		Int("code", body.Code).
		Str("msg", body.Msg).
		Msg("feishu: upstream rejected request")
	msg := strings.TrimSpace(body.Msg)
	if msg == "" {
		msg = fallback
	}
	return errs.New(kind, msg)
}

func ensureSDKSuccess(kind errs.Kind, action string, ok bool, code int, msg, logID, fallback string) error {
	if ok {
		return nil
	}
	log.Warn().
		Str("action", action).
		Int("code", code).
		Str("msg", msg).
		Str("log_id", logID).
		Msg("feishu: sdk request failed")
	if strings.TrimSpace(msg) == "" {
		msg = fallback
	}
	return errs.New(kind, msg)
}

// FindRecord returns the id of the first record whose fieldName equals value.
// Upstream ordering decides ties; found is false when nothing matches.
func (s *Session) FindRecord(ctx context.Context, ref BitableRef, fieldName, value string) (recordID string, found bool, err error) {
	if err := ref.require(); err != nil {
		return "", false, err
	}
	filter := NewEqualsFilter(fieldName, value)
	if filter == nil || len(filter.Conditions) == 0 {
		return "", false, errs.New(errs.Validation, "lookup field name is empty")
	}
	if s.client.useSDK() {
		return s.findRecordSDK(ctx, ref, filter)
	}
	return s.findRecordHTTP(ctx, ref, filter)
}

func (s *Session) findRecordHTTP(ctx context.Context, ref BitableRef, filter *FilterInfo) (string, bool, error) {
	filterJSON := FilterJSON(filter)
	path := ref.recordsPath() + "?filter=" + encodeQueryComponent(filterJSON) +
		"&page_size=" + strconv.Itoa(SearchPageSize)

	resp, raw, err := s.client.doJSONRequest(ctx, http.MethodGet, path, s.token, nil)
	if err != nil {
		return "", false, errs.Wrap(errs.Query, err, "search records failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, upstreamError(errs.Query, "search records", resp.StatusCode, raw, "search records failed")
	}

	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Items []struct {
				RecordID string `json:"record_id"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, errs.Wrap(errs.Transport, err, "decode search response")
	}
	if parsed.Code != 0 {
		return "", false, upstreamError(errs.Query, "search records", resp.StatusCode, raw, "search records failed")
	}

	log.Debug().
		Str("table_id", ref.TableID).
		Str("filter", filterJSON).
		Int("count", len(parsed.Data.Items)).
		Msg("bitable records searched (http)")
	if len(parsed.Data.Items) == 0 {
		return "", false, nil
	}
	return parsed.Data.Items[0].RecordID, true, nil
}

func (s *Session) findRecordSDK(ctx context.Context, ref BitableRef, filter *FilterInfo) (string, bool, error) {
	api, opt := s.bitableSDK()
	body := &larkbitable.SearchAppTableRecordReqBody{Filter: filter}

	resp, err := api.Search(ctx, ref.AppToken, ref.TableID, SearchPageSize, body, opt)
	if err != nil {
		return "", false, errs.Wrap(errs.Query, err, "search records failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", false, errs.New(errs.Query, "empty response when searching records")
	}
	if err := ensureSDKSuccess(errs.Query, "search records", resp.Success(), resp.Code, resp.Msg, resp.RequestId(), "search records failed"); err != nil {
		return "", false, err
	}

	count := 0
	if resp.Data != nil {
		count = len(resp.Data.Items)
	}
	log.Debug().
		Str("table_id", ref.TableID).
		Str("filter", FilterJSON(filter)).
		Int("count", count).
		Msg("bitable records searched (sdk)")
	if resp.Data == nil {
		return "", false, nil
	}
	for _, item := range resp.Data.Items {
		if item == nil {
			continue
		}
		return strings.TrimSpace(larkcore.StringValue(item.RecordId)), true, nil
	}
	return "", false, nil
}

// CreateRecord inserts a row with fields. No local schema validation is done.
func (s *Session) CreateRecord(ctx context.Context, ref BitableRef, fields map[string]any) (RecordResult, error) {
	if err := ref.require(); err != nil {
		return RecordResult{}, err
	}
	if s.client.useSDK() {
		return s.createRecordSDK(ctx, ref, fields)
	}
	return s.writeRecordHTTP(ctx, http.MethodPost, ref.recordsPath(), "create record", fields)
}

// UpdateRecord overwrites the given fields of recordID.
func (s *Session) UpdateRecord(ctx context.Context, ref BitableRef, recordID string, fields map[string]any) (RecordResult, error) {
	if err := ref.require(); err != nil {
		return RecordResult{}, err
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return RecordResult{}, errs.New(errs.Validation, "record id is empty")
	}
	if s.client.useSDK() {
		return s.updateRecordSDK(ctx, ref, recordID, fields)
	}
	path := ref.recordsPath() + "/" + url.PathEscape(recordID)
	return s.writeRecordHTTP(ctx, http.MethodPut, path, "update record", fields)
}

func (s *Session) writeRecordHTTP(ctx context.Context, method, path, action string, fields map[string]any) (RecordResult, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	payload := map[string]any{"fields": fields}
	resp, raw, err := s.client.doJSONRequest(ctx, method, path, s.token, payload)
	if err != nil {
		return RecordResult{}, errs.Wrap(errs.Write, err, action+" failed")
	}
	if resp.StatusCode != http.StatusOK {
		return RecordResult{}, upstreamError(errs.Write, action, resp.StatusCode, raw, action+" failed")
	}

	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Record struct {
				RecordID string `json:"record_id"`
			} `json:"record"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return RecordResult{}, errs.Wrap(errs.Transport, err, "decode "+action+" response")
	}
	if parsed.Code != 0 {
		return RecordResult{}, upstreamError(errs.Write, action, resp.StatusCode, raw, action+" failed")
	}
	return RecordResult{RecordID: strings.TrimSpace(parsed.Data.Record.RecordID), Raw: raw}, nil
}

func (s *Session) createRecordSDK(ctx context.Context, ref BitableRef, fields map[string]any) (RecordResult, error) {
	api, opt := s.bitableSDK()
	record := larkbitable.NewAppTableRecordBuilder().
		Fields(fields).
		Build()

	resp, err := api.Create(ctx, ref.AppToken, ref.TableID, record, opt)
	if err != nil {
		return RecordResult{}, errs.Wrap(errs.Write, err, "create record failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return RecordResult{}, errs.New(errs.Write, "empty response when creating record")
	}
	if err := ensureSDKSuccess(errs.Write, "create record", resp.Success(), resp.Code, resp.Msg, resp.RequestId(), "create record failed"); err != nil {
		return RecordResult{}, err
	}
	result := RecordResult{Raw: resp.ApiResp.RawBody}
	if resp.Data != nil && resp.Data.Record != nil {
		result.RecordID = strings.TrimSpace(larkcore.StringValue(resp.Data.Record.RecordId))
	}
	return result, nil
}

func (s *Session) updateRecordSDK(ctx context.Context, ref BitableRef, recordID string, fields map[string]any) (RecordResult, error) {
	api, opt := s.bitableSDK()
	record := larkbitable.NewAppTableRecordBuilder().
		Fields(fields).
		Build()

	resp, err := api.Update(ctx, ref.AppToken, ref.TableID, recordID, record, opt)
	if err != nil {
		return RecordResult{}, errs.Wrap(errs.Write, err, "update record failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return RecordResult{}, errs.New(errs.Write, "empty response when updating record")
	}
	if err := ensureSDKSuccess(errs.Write, "update record", resp.Success(), resp.Code, resp.Msg, resp.RequestId(), "update record failed"); err != nil {
		return RecordResult{}, err
	}
	return RecordResult{RecordID: recordID, Raw: resp.ApiResp.RawBody}, nil
}

// ListRecords returns the raw first page (up to SearchPageSize rows) of the table.
func (s *Session) ListRecords(ctx context.Context, ref BitableRef) (json.RawMessage, error) {
	if err := ref.require(); err != nil {
		return nil, err
	}
	path := ref.recordsPath() + "?page_size=" + strconv.Itoa(SearchPageSize)
	return s.readRaw(ctx, path, "list records")
}

// ListFields returns the raw field definitions of the table.
func (s *Session) ListFields(ctx context.Context, ref BitableRef) (json.RawMessage, error) {
	if err := ref.require(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/fields",
		url.PathEscape(ref.AppToken), url.PathEscape(ref.TableID))
	return s.readRaw(ctx, path, "list fields")
}

func (s *Session) readRaw(ctx context.Context, path, action string) (json.RawMessage, error) {
	resp, raw, err := s.client.doJSONRequest(ctx, http.MethodGet, path, s.token, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Query, err, action+" failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(errs.Query, action, resp.StatusCode, raw, action+" failed")
	}
	if !json.Valid(raw) {
		return nil, errs.New(errs.Transport, "decode "+action+" response: invalid json")
	}
	return raw, nil
}

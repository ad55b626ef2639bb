package feishusdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/httprunner/ActivityUploader/internal/errs"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
)

type fakeSearchCall struct {
	AppToken string
	TableID  string
	PageSize int
	Body     *larkbitable.SearchAppTableRecordReqBody
}

type fakeCreateCall struct {
	AppToken string
	TableID  string
	Record   *larkbitable.AppTableRecord
}

type fakeUpdateCall struct {
	AppToken  string
	TableID   string
	RecordID  string
	AppRecord *larkbitable.AppTableRecord
}

type fakeBitableAPI struct {
	searchCalls []fakeSearchCall
	createCalls []fakeCreateCall
	updateCalls []fakeUpdateCall

	searchFn func(ctx context.Context, call fakeSearchCall) (*larkbitable.SearchAppTableRecordResp, error)
	createFn func(ctx context.Context, call fakeCreateCall) (*larkbitable.CreateAppTableRecordResp, error)
}

func (f *fakeBitableAPI) Search(ctx context.Context, appToken, tableID string, pageSize int, body *larkbitable.SearchAppTableRecordReqBody, _ ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error) {
	call := fakeSearchCall{AppToken: appToken, TableID: tableID, PageSize: pageSize, Body: body}
	f.searchCalls = append(f.searchCalls, call)
	if f.searchFn != nil {
		return f.searchFn(ctx, call)
	}
	return okSearchResp(nil), nil
}

func (f *fakeBitableAPI) Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, _ ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error) {
	call := fakeCreateCall{AppToken: appToken, TableID: tableID, Record: record}
	f.createCalls = append(f.createCalls, call)
	if f.createFn != nil {
		return f.createFn(ctx, call)
	}
	return okCreateResp("recDefault"), nil
}

func (f *fakeBitableAPI) Update(ctx context.Context, appToken, tableID, recordID string, record *larkbitable.AppTableRecord, _ ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error) {
	f.updateCalls = append(f.updateCalls, fakeUpdateCall{AppToken: appToken, TableID: tableID, RecordID: recordID, AppRecord: record})
	return &larkbitable.UpdateAppTableRecordResp{
		ApiResp:   okApiResp(),
		CodeError: larkcore.CodeError{Code: 0, Msg: "success"},
		Data: &larkbitable.UpdateAppTableRecordRespData{
			Record: &larkbitable.AppTableRecord{RecordId: larkcore.StringPtr(recordID)},
		},
	}, nil
}

func okApiResp() *larkcore.ApiResp {
	return &larkcore.ApiResp{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		RawBody:    []byte(`{"code":0,"msg":"success"}`),
	}
}

func okSearchResp(recordIDs []string) *larkbitable.SearchAppTableRecordResp {
	items := make([]*larkbitable.AppTableRecord, 0, len(recordIDs))
	for _, id := range recordIDs {
		items = append(items, &larkbitable.AppTableRecord{RecordId: larkcore.StringPtr(id)})
	}
	return &larkbitable.SearchAppTableRecordResp{
		ApiResp:   okApiResp(),
		CodeError: larkcore.CodeError{Code: 0, Msg: "success"},
		Data: &larkbitable.SearchAppTableRecordRespData{
			Items:   items,
			HasMore: larkcore.BoolPtr(false),
		},
	}
}

func okCreateResp(recordID string) *larkbitable.CreateAppTableRecordResp {
	return &larkbitable.CreateAppTableRecordResp{
		ApiResp:   okApiResp(),
		CodeError: larkcore.CodeError{Code: 0, Msg: "success"},
		Data: &larkbitable.CreateAppTableRecordRespData{
			Record: &larkbitable.AppTableRecord{RecordId: larkcore.StringPtr(recordID)},
		},
	}
}

type recordedRequest struct {
	Method  string
	Path    string
	Token   string
	Payload any
}

func newMockedClient(t *testing.T, handler func(req recordedRequest) (int, string)) (*Client, *[]recordedRequest) {
	t.Helper()
	client := NewClient(Options{})
	var calls []recordedRequest
	client.doJSONRequestFunc = func(ctx context.Context, method, path, token string, payload any) (*http.Response, []byte, error) {
		req := recordedRequest{Method: method, Path: path, Token: token, Payload: payload}
		calls = append(calls, req)
		status, body := handler(req)
		return &http.Response{StatusCode: status}, []byte(body), nil
	}
	return client, &calls
}

var testRef = BitableRef{AppToken: "bascnApp", TableID: "tblActivities"}

func TestFindRecordHTTPBuildsEncodedFilter(t *testing.T) {
	client, calls := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusOK, `{"code":0,"msg":"success","data":{"items":[{"record_id":"rec1"},{"record_id":"rec2"}]}}`
	})
	session := client.NewSession("cli_app", "secret", "t-token")

	recordID, found, err := session.FindRecord(context.Background(), testRef, "name", "Spring 2024")
	if err != nil {
		t.Fatalf("FindRecord returned error: %v", err)
	}
	if !found || recordID != "rec1" {
		t.Fatalf("expected first match rec1, got %q found=%v", recordID, found)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.Method != http.MethodGet || call.Token != "t-token" {
		t.Fatalf("unexpected call %+v", call)
	}
	if !strings.HasPrefix(call.Path, "/open-apis/bitable/v1/apps/bascnApp/tables/tblActivities/records?filter=") {
		t.Fatalf("unexpected path %s", call.Path)
	}
	if strings.Contains(call.Path, "+") {
		t.Fatalf("spaces must be encoded as %%20, got %s", call.Path)
	}
	u, err := url.Parse(call.Path)
	if err != nil {
		t.Fatalf("parse path: %v", err)
	}
	if u.Query().Get("page_size") != "100" {
		t.Fatalf("page_size = %q", u.Query().Get("page_size"))
	}
	var filter struct {
		Conjunction string `json:"conjunction"`
		Conditions  []struct {
			FieldName string   `json:"field_name"`
			Operator  string   `json:"operator"`
			Value     []string `json:"value"`
		} `json:"conditions"`
	}
	if err := json.Unmarshal([]byte(u.Query().Get("filter")), &filter); err != nil {
		t.Fatalf("filter is not json: %v", err)
	}
	if filter.Conjunction != "and" || len(filter.Conditions) != 1 {
		t.Fatalf("unexpected filter %+v", filter)
	}
	cond := filter.Conditions[0]
	if cond.FieldName != "name" || cond.Operator != "is" || len(cond.Value) != 1 || cond.Value[0] != "Spring 2024" {
		t.Fatalf("unexpected condition %+v", cond)
	}
}

func TestFindRecordHTTPNoMatch(t *testing.T) {
	client, _ := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusOK, `{"code":0,"msg":"success","data":{"items":[]}}`
	})
	recordID, found, err := client.NewSession("a", "s", "t").FindRecord(context.Background(), testRef, "name", "x")
	if err != nil || found || recordID != "" {
		t.Fatalf("expected no match, got %q %v %v", recordID, found, err)
	}
}

func TestFindRecordHTTPUpstreamErrorUsesMsg(t *testing.T) {
	client, _ := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusBadRequest, `{"code":1254045,"msg":"FieldNameNotFound"}`
	})
	_, _, err := client.NewSession("a", "s", "t").FindRecord(context.Background(), testRef, "name", "x")
	if !errs.Is(err, errs.Query) {
		t.Fatalf("expected query error, got %v", err)
	}
	if errs.Message(err) != "FieldNameNotFound" {
		t.Fatalf("message = %q", errs.Message(err))
	}
}

func TestFindRecordHTTPNonJSONIsTransportError(t *testing.T) {
	client, _ := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusOK, `<html>gateway</html>`
	})
	_, _, err := client.NewSession("a", "s", "t").FindRecord(context.Background(), testRef, "name", "x")
	if !errs.Is(err, errs.Transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFindRecordRequiresTable(t *testing.T) {
	client, calls := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusOK, `{}`
	})
	_, _, err := client.NewSession("a", "s", "t").FindRecord(context.Background(), BitableRef{AppToken: "app"}, "name", "x")
	if !errs.Is(err, errs.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("no request expected")
	}
}

func TestCreateAndUpdateRecordHTTP(t *testing.T) {
	client, calls := newMockedClient(t, func(req recordedRequest) (int, string) {
		if req.Method == http.MethodPost {
			return http.StatusOK, `{"code":0,"msg":"success","data":{"record":{"record_id":"recNew","fields":{}}}}`
		}
		return http.StatusOK, `{"code":0,"msg":"success","data":{"record":{"record_id":"recOld"}}}`
	})
	session := client.NewSession("a", "s", "t")
	fields := map[string]any{"name": "Spring2024", "imgurl1": "https://x/1.jpg"}

	created, err := session.CreateRecord(context.Background(), testRef, fields)
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if created.RecordID != "recNew" || !strings.Contains(string(created.Raw), "recNew") {
		t.Fatalf("unexpected create result %+v", created)
	}
	if _, err := session.UpdateRecord(context.Background(), testRef, "recOld", fields); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	if len(*calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(*calls))
	}
	if (*calls)[0].Path != "/open-apis/bitable/v1/apps/bascnApp/tables/tblActivities/records" {
		t.Fatalf("create path = %s", (*calls)[0].Path)
	}
	update := (*calls)[1]
	if update.Method != http.MethodPut || update.Path != "/open-apis/bitable/v1/apps/bascnApp/tables/tblActivities/records/recOld" {
		t.Fatalf("unexpected update call %+v", update)
	}
	payload, ok := update.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", update.Payload)
	}
	if got := payload["fields"].(map[string]any)["imgurl1"]; got != "https://x/1.jpg" {
		t.Fatalf("payload fields = %v", payload["fields"])
	}
}

func TestWriteRecordHTTPFailures(t *testing.T) {
	client, _ := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusForbidden, `{"code":91403,"msg":"Forbidden"}`
	})
	session := client.NewSession("a", "s", "t")
	if _, err := session.CreateRecord(context.Background(), testRef, map[string]any{"a": 1}); !errs.Is(err, errs.Write) || errs.Message(err) != "Forbidden" {
		t.Fatalf("create: expected write error Forbidden, got %v", err)
	}
	if _, err := session.UpdateRecord(context.Background(), testRef, "", nil); !errs.Is(err, errs.Validation) {
		t.Fatalf("update without id: expected validation error, got %v", err)
	}

	okStatusBadCode, _ := newMockedClient(t, func(req recordedRequest) (int, string) {
		return http.StatusOK, `{"code":1254001,"msg":"WrongRequestBody"}`
	})
	if _, err := okStatusBadCode.NewSession("a", "s", "t").UpdateRecord(context.Background(), testRef, "rec", nil); !errs.Is(err, errs.Write) {
		t.Fatalf("non-zero code should be a write error, got %v", err)
	}
}

func TestFindAndCreateRecordSDK(t *testing.T) {
	client := NewClient(Options{Transport: "SDK"})
	if client.Transport() != TransportSDK {
		t.Fatalf("transport = %q", client.Transport())
	}
	fake := &fakeBitableAPI{
		searchFn: func(ctx context.Context, call fakeSearchCall) (*larkbitable.SearchAppTableRecordResp, error) {
			return okSearchResp([]string{"recA", "recB"}), nil
		},
	}
	client.bitableAPI = fake
	session := client.NewSession("cli", "secret", "t-token")

	recordID, found, err := session.FindRecord(context.Background(), testRef, "name", "Spring2024")
	if err != nil || !found || recordID != "recA" {
		t.Fatalf("FindRecord sdk = %q %v %v", recordID, found, err)
	}
	call := fake.searchCalls[0]
	if call.PageSize != SearchPageSize || call.AppToken != "bascnApp" || call.TableID != "tblActivities" {
		t.Fatalf("unexpected search call %+v", call)
	}
	if call.Body == nil || call.Body.Filter == nil || len(call.Body.Filter.Conditions) != 1 {
		t.Fatalf("filter missing from body: %+v", call.Body)
	}
	if got := larkcore.StringValue(call.Body.Filter.Conditions[0].FieldName); got != "name" {
		t.Fatalf("filter field = %q", got)
	}

	created, err := session.CreateRecord(context.Background(), testRef, map[string]any{"name": "Spring2024"})
	if err != nil || created.RecordID != "recDefault" {
		t.Fatalf("CreateRecord sdk = %+v %v", created, err)
	}
	if fake.createCalls[0].Record.Fields["name"] != "Spring2024" {
		t.Fatalf("unexpected create record %+v", fake.createCalls[0].Record)
	}
	if _, err := session.UpdateRecord(context.Background(), testRef, "recA", map[string]any{"imgurl1": "u"}); err != nil {
		t.Fatalf("UpdateRecord sdk: %v", err)
	}
	if fake.updateCalls[0].RecordID != "recA" {
		t.Fatalf("unexpected update call %+v", fake.updateCalls[0])
	}
}

func TestFindRecordSDKFailure(t *testing.T) {
	client := NewClient(Options{Transport: TransportSDK})
	client.bitableAPI = &fakeBitableAPI{
		searchFn: func(ctx context.Context, call fakeSearchCall) (*larkbitable.SearchAppTableRecordResp, error) {
			resp := okSearchResp(nil)
			resp.CodeError = larkcore.CodeError{Code: 1254045, Msg: "FieldNameNotFound"}
			return resp, nil
		},
	}
	_, _, err := client.NewSession("a", "s", "t").FindRecord(context.Background(), testRef, "name", "x")
	if !errs.Is(err, errs.Query) || errs.Message(err) != "FieldNameNotFound" {
		t.Fatalf("expected query error FieldNameNotFound, got %v", err)
	}
}

func newTokenServer(t *testing.T, status int, body string) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/auth/v3/tenant_access_token/internal" {
			http.NotFound(w, r)
			return
		}
		hits++
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			AppID     string `json:"app_id"`
			AppSecret string `json:"app_secret"`
		}
		_ = json.Unmarshal(raw, &req)
		if req.AppID != "cli_app" || req.AppSecret != "secret" {
			t.Errorf("unexpected credentials %s", raw)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExchangeTokenNeverCaches(t *testing.T) {
	srv, hits := newTokenServer(t, http.StatusOK, `{"code":0,"msg":"ok","tenant_access_token":"t-abc","expire":7200}`)
	client := NewClient(Options{BaseURL: srv.URL})

	for i := 0; i < 2; i++ {
		token, err := client.ExchangeToken(context.Background(), "cli_app", "secret")
		if err != nil {
			t.Fatalf("ExchangeToken: %v", err)
		}
		if token != "t-abc" {
			t.Fatalf("token = %q", token)
		}
	}
	if *hits != 2 {
		t.Fatalf("expected every call to hit upstream, got %d hits", *hits)
	}
}

func TestExchangeTokenFailures(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.ExchangeToken(context.Background(), " ", "secret"); !errs.Is(err, errs.Auth) {
		t.Fatalf("empty app id: expected auth error, got %v", err)
	}

	srv, _ := newTokenServer(t, http.StatusInternalServerError, `{"code":500,"msg":"internal"}`)
	if _, err := NewClient(Options{BaseURL: srv.URL}).ExchangeToken(context.Background(), "cli_app", "secret"); !errs.Is(err, errs.Auth) {
		t.Fatalf("non-200: expected auth error, got %v", err)
	}

	noToken, _ := newTokenServer(t, http.StatusOK, `{"code":10014,"msg":"app secret invalid"}`)
	if _, err := NewClient(Options{BaseURL: noToken.URL}).ExchangeToken(context.Background(), "cli_app", "secret"); !errs.Is(err, errs.Auth) {
		t.Fatalf("missing token: expected auth error, got %v", err)
	}
}

func TestAuthorizeThenListOverHTTP(t *testing.T) {
	var seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/open-apis/auth/v3/tenant_access_token/internal":
			_, _ = io.WriteString(w, `{"code":0,"tenant_access_token":"t-live"}`)
		case strings.HasSuffix(r.URL.Path, "/fields"):
			seenAuth = r.Header.Get("Authorization")
			_, _ = io.WriteString(w, `{"code":0,"data":{"items":[{"field_name":"name"}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL + "/"})
	session, err := client.Authorize(context.Background(), "cli_app", "secret")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	raw, err := session.ListFields(context.Background(), testRef)
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	if !strings.Contains(string(raw), "field_name") {
		t.Fatalf("unexpected raw body %s", raw)
	}
	if seenAuth != "Bearer t-live" {
		t.Fatalf("authorization header = %q", seenAuth)
	}
}

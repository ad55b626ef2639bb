package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/httprunner/ActivityUploader/internal/assets"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/httprunner/ActivityUploader/internal/feishusdk"
)

// feishuRequest is the body shared by the Feishu proxy routes. Credentials
// left empty fall back to the server's environment.
type feishuRequest struct {
	AppID           string         `json:"app_id"`
	AppSecret       string         `json:"app_secret"`
	BitableAppToken string         `json:"bitable_app_token"`
	BitableTableID  string         `json:"bitable_table_id"`
	NameFieldName   string         `json:"name_field_name"`
	ActivityName    string         `json:"activity_name"`
	Fields          map[string]any `json:"fields"`
}

func (r feishuRequest) ref() feishusdk.BitableRef {
	return feishusdk.BitableRef{AppToken: strings.TrimSpace(r.BitableAppToken), TableID: strings.TrimSpace(r.BitableTableID)}
}

func (r feishuRequest) hasTable() bool {
	return strings.TrimSpace(r.BitableAppToken) != "" && strings.TrimSpace(r.BitableTableID) != ""
}

func (s *Server) decodeFeishu(rc RequestContext) (feishuRequest, error) {
	var req feishuRequest
	if err := rc.Decode(&req); err != nil {
		return req, err
	}
	req.AppID = firstNonEmpty(req.AppID, s.opts.Config.Feishu.AppID)
	req.AppSecret = firstNonEmpty(req.AppSecret, s.opts.Config.Feishu.AppSecret)
	return req, nil
}

func (s *Server) authorize(ctx context.Context, req feishuRequest) (*feishusdk.Session, error) {
	if req.AppID == "" {
		return nil, errs.New(errs.Validation, "missing App ID")
	}
	return s.opts.Feishu.Authorize(ctx, req.AppID, req.AppSecret)
}

func (s *Server) getConfig(ctx context.Context, rc RequestContext) (int, any) {
	if s.opts.RedactSecrets {
		return http.StatusOK, s.opts.Config.Redacted()
	}
	return http.StatusOK, s.opts.Config
}

func (s *Server) accessToken(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	if req.AppID == "" {
		return failure(errs.New(errs.Validation, "missing App ID"))
	}
	token, err := s.opts.Feishu.ExchangeToken(ctx, req.AppID, req.AppSecret)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, gin.H{"access_token": token}
}

func (s *Server) searchRecord(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	if !req.hasTable() || strings.TrimSpace(req.ActivityName) == "" {
		return failure(errs.New(errs.Validation, "missing required parameters"))
	}
	session, err := s.authorize(ctx, req)
	if err != nil {
		return failure(err)
	}
	field := firstNonEmpty(req.NameFieldName, s.opts.Config.FieldNames.Name, "name")
	recordID, found, err := session.FindRecord(ctx, req.ref(), field, req.ActivityName)
	if err != nil {
		return failure(err)
	}
	if !found {
		return http.StatusOK, gin.H{"record_id": nil}
	}
	return http.StatusOK, gin.H{"record_id": recordID}
}

func (s *Server) createRecord(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	if !req.hasTable() {
		return failure(errs.New(errs.Validation, "missing required parameters"))
	}
	session, err := s.authorize(ctx, req)
	if err != nil {
		return failure(err)
	}
	result, err := session.CreateRecord(ctx, req.ref(), req.Fields)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, result.Raw
}

func (s *Server) updateRecord(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	recordID := strings.TrimSpace(rc.Param("record_id"))
	if !req.hasTable() || recordID == "" {
		return failure(errs.New(errs.Validation, "missing required parameters"))
	}
	session, err := s.authorize(ctx, req)
	if err != nil {
		return failure(err)
	}
	result, err := session.UpdateRecord(ctx, req.ref(), recordID, req.Fields)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, result.Raw
}

func (s *Server) listRecords(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	if !req.hasTable() {
		return failure(errs.New(errs.Validation, "missing required parameters"))
	}
	session, err := s.authorize(ctx, req)
	if err != nil {
		return failure(err)
	}
	raw, err := session.ListRecords(ctx, req.ref())
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, raw
}

func (s *Server) listFields(ctx context.Context, rc RequestContext) (int, any) {
	req, err := s.decodeFeishu(rc)
	if err != nil {
		return failure(err)
	}
	if !req.hasTable() {
		return failure(errs.New(errs.Validation, "missing required parameters"))
	}
	session, err := s.authorize(ctx, req)
	if err != nil {
		return failure(err)
	}
	raw, err := session.ListFields(ctx, req.ref())
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, raw
}

type uploadRequest struct {
	FileName    string `json:"file_name"`
	FileContent string `json:"file_content"`
	Path        string `json:"path"`
}

func (s *Server) uploadAsset(ctx context.Context, rc RequestContext) (int, any) {
	var req uploadRequest
	if err := rc.Decode(&req); err != nil {
		return failure(err)
	}
	asset := assets.Asset{Path: req.Path, FileName: strings.TrimSpace(req.FileName)}
	if strings.TrimSpace(req.FileContent) != "" {
		data, err := assets.DecodeContent(req.FileContent)
		if err != nil {
			return failure(err)
		}
		asset.Data = data
	}
	url, err := s.opts.Publisher.Publish(ctx, asset)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, gin.H{"download_url": url}
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

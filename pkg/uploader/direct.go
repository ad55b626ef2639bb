package uploader

import (
	"context"

	"github.com/httprunner/ActivityUploader/internal/assets"
	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/feishusdk"
)

// AssetPublisher is the subset of assets.Publisher a DirectBackend needs.
type AssetPublisher interface {
	Publish(ctx context.Context, asset assets.Asset) (string, error)
}

// FeishuAuthorizer exchanges credentials for a token-bound Bitable session.
type FeishuAuthorizer interface {
	Authorize(ctx context.Context, appID, appSecret string) (*feishusdk.Session, error)
}

// DirectBackend runs every step in process against GitHub and Feishu.
type DirectBackend struct {
	cfg       config.RemoteConfig
	feishu    FeishuAuthorizer
	publisher AssetPublisher
}

// NewDirectBackend wires an in-process backend.
func NewDirectBackend(cfg config.RemoteConfig, feishu FeishuAuthorizer, publisher AssetPublisher) *DirectBackend {
	return &DirectBackend{cfg: cfg, feishu: feishu, publisher: publisher}
}

func (b *DirectBackend) Config(ctx context.Context) (config.RemoteConfig, error) {
	return b.cfg, nil
}

func (b *DirectBackend) Publish(ctx context.Context, path, fileName string, data []byte) (string, error) {
	return b.publisher.Publish(ctx, assets.Asset{Path: path, FileName: fileName, Data: data})
}

// Authorize exchanges a fresh tenant access token for every call.
func (b *DirectBackend) Authorize(ctx context.Context, feishu config.Feishu) (RecordStore, error) {
	session, err := b.feishu.Authorize(ctx, feishu.AppID, feishu.AppSecret)
	if err != nil {
		return nil, err
	}
	return &sessionStore{
		session: session,
		ref:     feishusdk.BitableRef{AppToken: feishu.BitableAppToken, TableID: feishu.BitableTableID},
	}, nil
}

type sessionStore struct {
	session *feishusdk.Session
	ref     feishusdk.BitableRef
}

func (s *sessionStore) FindRecord(ctx context.Context, fieldName, value string) (string, bool, error) {
	return s.session.FindRecord(ctx, s.ref, fieldName, value)
}

func (s *sessionStore) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	result, err := s.session.CreateRecord(ctx, s.ref, fields)
	if err != nil {
		return "", err
	}
	return result.RecordID, nil
}

func (s *sessionStore) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	_, err := s.session.UpdateRecord(ctx, s.ref, recordID, fields)
	return err
}

package assets

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	EnvAPIBaseURL  = "GITHUB_API_BASE_URL"
	EnvStrictCheck = "GITHUB_STRICT_EXISTENCE_CHECK"

	// CommitMessagePrefix precedes the file name in every upload commit.
	CommitMessagePrefix = "Upload image: "

	maxErrorTextLen = 200
)

// ExistenceState is the outcome of probing a repository path.
type ExistenceState int

const (
	NotFound ExistenceState = iota
	Found
	CheckFailed
)

func (s ExistenceState) String() string {
	switch s {
	case Found:
		return "found"
	case CheckFailed:
		return "check_failed"
	default:
		return "not_found"
	}
}

// Existence describes what the Contents API reported for a path. SHA is set
// for Found, Err for CheckFailed.
type Existence struct {
	State ExistenceState
	SHA   string
	Err   error
}

// Asset is one file to write. Data holds the raw bytes; the publisher does
// the transport encoding.
type Asset struct {
	Path     string
	FileName string
	Data     []byte
}

// DecodeContent turns a base64 file_content payload into raw bytes.
func DecodeContent(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "file_content is not valid base64")
	}
	return data, nil
}

// Options configures a Publisher.
type Options struct {
	Owner  string
	Repo   string
	Token  string
	Branch string
	// BaseURL overrides https://api.github.com/ (tests, GitHub Enterprise).
	BaseURL string
	// Strict makes Publish fail when the existence check itself fails
	// instead of proceeding as a create.
	Strict     bool
	HTTPClient *http.Client
}

// Publisher writes files into one GitHub repository through the Contents API.
type Publisher struct {
	owner  string
	repo   string
	branch string
	strict bool
	client *github.Client
}

// NewPublisherFromEnv builds a Publisher from the GitHub section of cfg plus
// GITHUB_API_BASE_URL and GITHUB_STRICT_EXISTENCE_CHECK.
func NewPublisherFromEnv(cfg config.GitHub) (*Publisher, error) {
	return NewPublisher(Options{
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		Token:   cfg.Token,
		Branch:  cfg.Branch,
		BaseURL: env.String(EnvAPIBaseURL, ""),
		Strict:  env.Bool(EnvStrictCheck, false),
	})
}

// NewPublisher builds a Publisher. Missing owner/repo/token are reported by
// Publish, not here, so a partially configured process can still start.
func NewPublisher(opts Options) (*Publisher, error) {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	httpClient := base
	if token := strings.TrimSpace(opts.Token); token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	client := github.NewClient(httpClient)
	if raw := strings.TrimSpace(opts.BaseURL); raw != "" {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse github api base url")
		}
		client.BaseURL = u
	}

	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		branch = config.DefaultBranch
	}
	p := &Publisher{
		owner:  strings.TrimSpace(opts.Owner),
		repo:   strings.TrimSpace(opts.Repo),
		branch: branch,
		strict: opts.Strict,
	}
	if strings.TrimSpace(opts.Token) != "" {
		p.client = client
	}
	return p, nil
}

func (p *Publisher) ready() error {
	if p.client == nil {
		return errs.New(errs.Publish, "GitHub token not configured")
	}
	if p.owner == "" || p.repo == "" {
		return errs.New(errs.Publish, "GitHub repository not configured")
	}
	return nil
}

// Check probes path on the configured branch.
func (p *Publisher) Check(ctx context.Context, path string) Existence {
	if err := p.ready(); err != nil {
		return Existence{State: CheckFailed, Err: err}
	}
	file, dir, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path,
		&github.RepositoryContentGetOptions{Ref: p.branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Existence{State: NotFound}
		}
		return Existence{State: CheckFailed, Err: err}
	}
	if file == nil {
		return Existence{State: CheckFailed, Err: errors.Errorf("path is a directory with %d entries", len(dir))}
	}
	return Existence{State: Found, SHA: file.GetSHA()}
}

// Publish writes asset (create or overwrite) and returns its download URL.
func (p *Publisher) Publish(ctx context.Context, asset Asset) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(asset.FileName) == "" || len(asset.Data) == 0 {
		return "", errs.New(errs.Validation, "Missing file_name or file_content")
	}
	path := strings.Trim(strings.TrimSpace(asset.Path), "/")
	if path == "" {
		return "", errs.New(errs.Validation, "Missing path")
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(CommitMessagePrefix + asset.FileName),
		Content: asset.Data,
		Branch:  github.String(p.branch),
	}
	existence := p.Check(ctx, path)
	switch existence.State {
	case Found:
		opts.SHA = github.String(existence.SHA)
	case CheckFailed:
		if p.strict {
			return "", errs.Wrap(errs.Publish, existence.Err, "existence check failed for "+path)
		}
		log.Warn().Err(existence.Err).Str("path", path).
			Msg("github existence check failed, proceeding as create")
	}

	// GetContents escapes the path itself, CreateFile does not.
	escaped := (&url.URL{Path: path}).EscapedPath()
	result, _, err := p.client.Repositories.CreateFile(ctx, p.owner, p.repo, escaped, opts)
	if err != nil {
		return "", publishError(err)
	}
	downloadURL := result.GetContent().GetDownloadURL()
	if downloadURL == "" {
		return "", errs.New(errs.Publish, "missing download_url in GitHub response")
	}
	log.Info().
		Str("path", path).
		Str("existence", existence.State.String()).
		Int("bytes", len(asset.Data)).
		Msg("github asset published")
	return downloadURL, nil
}

// publishError prefers GitHub's JSON message and falls back to the raw body.
func publishError(err error) error {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return errs.Wrap(errs.Publish, err, "Upload to GitHub failed")
	}
	status := 0
	if ghErr.Response != nil {
		status = ghErr.Response.StatusCode
	}
	if msg := strings.TrimSpace(ghErr.Message); msg != "" {
		log.Error().Int("status", status).Str("message", msg).Msg("github upload rejected")
		return errs.New(errs.Publish, msg)
	}
	text := ""
	if ghErr.Response != nil && ghErr.Response.Body != nil {
		raw, _ := io.ReadAll(ghErr.Response.Body)
		text = errs.Truncate(string(raw), maxErrorTextLen)
	}
	log.Error().Int("status", status).Str("body", text).Msg("github upload rejected")
	if text == "" {
		return errs.New(errs.Publish, "Upload to GitHub failed")
	}
	return errs.New(errs.Publish, "Upload to GitHub failed: "+text)
}

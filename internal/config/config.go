package config

import (
	"os"
	"strings"

	"github.com/httprunner/ActivityUploader/internal/env"
)

const (
	EnvGitHubOwner  = "GITHUB_OWNER"
	EnvGitHubRepo   = "GITHUB_REPO"
	EnvGitHubToken  = "GITHUB_TOKEN"
	EnvGitHubBranch = "GITHUB_BRANCH"

	EnvFeishuAppID           = "FEISHU_APP_ID"
	EnvFeishuAppSecret       = "FEISHU_APP_SECRET"
	EnvFeishuBitableAppToken = "FEISHU_BITABLE_APP_TOKEN"
	EnvFeishuBitableTableID  = "FEISHU_BITABLE_TABLE_ID"

	EnvRedactSecrets = "CONFIG_REDACT_SECRETS"

	DefaultBranch = "main"

	// RedactedMarker replaces non-empty secrets in redacted configs.
	RedactedMarker = "******"
)

// GitHub identifies the repository receiving uploaded images.
type GitHub struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Token  string `json:"token"`
	Branch string `json:"branch"`
}

// Feishu holds the app credentials and the target Bitable table.
type Feishu struct {
	AppID           string `json:"app_id"`
	AppSecret       string `json:"app_secret"`
	BitableAppToken string `json:"bitable_app_token"`
	BitableTableID  string `json:"bitable_table_id"`
}

// FieldNames maps logical submission fields to Bitable column names.
type FieldNames struct {
	ImgURL1      string `json:"imgurl1"`
	ImgURL2      string `json:"imgurl2"`
	ImgURL3      string `json:"imgurl3"`
	Name         string `json:"name"`
	City         string `json:"city"`
	Date         string `json:"date"`
	WorkshopType string `json:"workshop_type"`
	Highlights   string `json:"highlights"`
	QuoteText    string `json:"quote_text"`
	QuoteAuthor  string `json:"quote_author"`
	QuoteText2   string `json:"quote_text_2"`
	QuoteAuthor2 string `json:"quote_author_2"`
	QuoteText3   string `json:"quote_text_3"`
	QuoteAuthor3 string `json:"quote_author_3"`
}

// ImageURLFields returns the image url columns in upload order.
func (f FieldNames) ImageURLFields() []string {
	return []string{f.ImgURL1, f.ImgURL2, f.ImgURL3}
}

// RemoteConfig is the session configuration served at /api/config.
type RemoteConfig struct {
	GitHub     GitHub     `json:"github"`
	Feishu     Feishu     `json:"feishu"`
	FieldNames FieldNames `json:"field_names"`
}

// FeishuConfigured reports whether a Bitable write may be attempted.
// App id is checked by the token exchange itself.
func (c RemoteConfig) FeishuConfigured() bool {
	return strings.TrimSpace(c.Feishu.AppSecret) != "" &&
		strings.TrimSpace(c.Feishu.BitableAppToken) != "" &&
		strings.TrimSpace(c.Feishu.BitableTableID) != ""
}

// Redacted returns a copy safe to hand to browsers: the GitHub token and the
// Feishu app secret are replaced by RedactedMarker when set.
func (c RemoteConfig) Redacted() RemoteConfig {
	out := c
	if out.GitHub.Token != "" {
		out.GitHub.Token = RedactedMarker
	}
	if out.Feishu.AppSecret != "" {
		out.Feishu.AppSecret = RedactedMarker
	}
	return out
}

// IsRedacted reports whether a secret value came from a redacted config.
func IsRedacted(value string) bool {
	return value == RedactedMarker
}

// RedactSecrets reports whether /api/config should hide secrets.
func RedactSecrets() bool {
	return env.Bool(EnvRedactSecrets, true)
}

// Load assembles the configuration from the process environment. Absent
// variables become empty strings; the branch defaults to main.
func Load() RemoteConfig {
	return RemoteConfig{
		GitHub: GitHub{
			Owner:  env.String(EnvGitHubOwner, ""),
			Repo:   env.String(EnvGitHubRepo, ""),
			Token:  env.String(EnvGitHubToken, ""),
			Branch: env.String(EnvGitHubBranch, DefaultBranch),
		},
		Feishu: Feishu{
			AppID:           env.String(EnvFeishuAppID, ""),
			AppSecret:       env.String(EnvFeishuAppSecret, ""),
			BitableAppToken: env.String(EnvFeishuBitableAppToken, ""),
			BitableTableID:  env.String(EnvFeishuBitableTableID, ""),
		},
		FieldNames: LoadFieldNames(),
	}
}

var baseFieldNames = FieldNames{
	ImgURL1:      "imgurl1",
	ImgURL2:      "imgurl2",
	ImgURL3:      "imgurl3",
	Name:         "name",
	City:         "city",
	Date:         "date",
	WorkshopType: "workshop_type",
	Highlights:   "highlights",
	QuoteText:    "quote_text",
	QuoteAuthor:  "quote_author",
	QuoteText2:   "quote_text_2",
	QuoteAuthor2: "quote_author_2",
	QuoteText3:   "quote_text_3",
	QuoteAuthor3: "quote_author_3",
}

// DefaultFieldNames returns the column names used when no override is set.
func DefaultFieldNames() FieldNames {
	return baseFieldNames
}

// LoadFieldNames applies FIELD_* overrides on top of the defaults.
func LoadFieldNames() FieldNames {
	_ = env.Ensure()
	fields := baseFieldNames
	overrideFieldFromEnv("FIELD_IMGURL1", &fields.ImgURL1)
	overrideFieldFromEnv("FIELD_IMGURL2", &fields.ImgURL2)
	overrideFieldFromEnv("FIELD_IMGURL3", &fields.ImgURL3)
	overrideFieldFromEnv("FIELD_NAME", &fields.Name)
	overrideFieldFromEnv("FIELD_CITY", &fields.City)
	overrideFieldFromEnv("FIELD_DATE", &fields.Date)
	overrideFieldFromEnv("FIELD_WORKSHOP_TYPE", &fields.WorkshopType)
	overrideFieldFromEnv("FIELD_HIGHLIGHTS", &fields.Highlights)
	overrideFieldFromEnv("FIELD_QUOTE_TEXT", &fields.QuoteText)
	overrideFieldFromEnv("FIELD_QUOTE_AUTHOR", &fields.QuoteAuthor)
	overrideFieldFromEnv("FIELD_QUOTE_TEXT_2", &fields.QuoteText2)
	overrideFieldFromEnv("FIELD_QUOTE_AUTHOR_2", &fields.QuoteAuthor2)
	overrideFieldFromEnv("FIELD_QUOTE_TEXT_3", &fields.QuoteText3)
	overrideFieldFromEnv("FIELD_QUOTE_AUTHOR_3", &fields.QuoteAuthor3)
	return fields
}

func overrideFieldFromEnv(key string, target *string) {
	if target == nil {
		return
	}
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		*target = strings.TrimSpace(val)
	}
}

package uploader

import (
	"context"
	"time"

	"github.com/httprunner/ActivityUploader/internal/config"
)

// MaxImages caps the selection of one submission.
const MaxImages = 3

// State is a step of the submission state machine.
type State string

const (
	StateIdle        State = "idle"
	StateCompressing State = "compressing"
	StatePublishing  State = "publishing"
	StateUpserting   State = "upserting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// RecordAction tells what the Bitable upsert did.
type RecordAction string

const (
	ActionCreated RecordAction = "created"
	ActionUpdated RecordAction = "updated"
	ActionSkipped RecordAction = "skipped"
)

// Image is one selected file.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Quote is a text/author pair captured by the form.
type Quote struct {
	Text   string
	Author string
}

// Form carries the user supplied metadata of a submission.
type Form struct {
	ActivityName string
	City         string
	Date         string
	WorkshopType string
	// Highlights is newline separated; blank lines are dropped.
	Highlights string
	Quotes     [3]Quote
}

// Result is what a finished submission exposes.
type Result struct {
	SubmissionID string
	State        State
	URLs         []string
	RecordID     string
	Action       RecordAction
}

// Progress reports a state transition. Index is zero based and only
// meaningful for Compressing and Publishing.
type Progress struct {
	State   State
	Index   int
	Total   int
	Message string
}

// ProgressFunc receives every state transition of a submission.
type ProgressFunc func(Progress)

// Summary is the journal view of a finished submission.
type Summary struct {
	ID           string
	ActivityName string
	State        State
	URLs         []string
	RecordID     string
	Action       RecordAction
	Error        string
	CreatedAt    time.Time
}

// Recorder persists submission summaries.
type Recorder interface {
	Record(ctx context.Context, summary Summary) error
}

// RecordStore is a token-bound view of one Bitable table.
type RecordStore interface {
	FindRecord(ctx context.Context, fieldName, value string) (recordID string, found bool, err error)
	CreateRecord(ctx context.Context, fields map[string]any) (recordID string, err error)
	UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error
}

// Backend is everything a Session talks to.
type Backend interface {
	// Config fetches the session configuration.
	Config(ctx context.Context) (config.RemoteConfig, error)
	// Publish writes one file into the asset repository and returns its URL.
	Publish(ctx context.Context, path, fileName string, data []byte) (string, error)
	// Authorize binds Feishu credentials to the configured table.
	Authorize(ctx context.Context, feishu config.Feishu) (RecordStore, error)
}

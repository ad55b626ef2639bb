package uploader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/httprunner/ActivityUploader/internal/imaging"
	"github.com/rs/zerolog/log"
)

// Options tunes a Session.
type Options struct {
	// Compress re-encodes every image as a JPEG bounded by imaging.MaxEdge
	// before it is published.
	Compress bool
	Progress ProgressFunc
	// Recorder, when set, receives a summary of every started submission.
	// Its failures are only logged.
	Recorder Recorder
	// Now stamps asset paths; defaults to time.Now.
	Now func() time.Time
}

// Session is one user's submission: the selected images, the URLs uploaded
// so far and the state of the last submit. It is safe for concurrent use,
// but only one Submit runs at a time.
type Session struct {
	backend Backend
	opts    Options

	mu     sync.Mutex
	cfg    *config.RemoteConfig
	images []Image
	urls   []string
	state  State
	err    error
	busy   bool
}

// NewSession returns an empty Session in the Idle state.
func NewSession(backend Backend, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{backend: backend, opts: opts, state: StateIdle}
}

// LoadConfig fetches the configuration once; later calls reuse it.
func (s *Session) LoadConfig(ctx context.Context) (config.RemoteConfig, error) {
	s.mu.Lock()
	if s.cfg != nil {
		cfg := *s.cfg
		s.mu.Unlock()
		return cfg, nil
	}
	s.mu.Unlock()

	cfg, err := s.backend.Config(ctx)
	if err != nil {
		return config.RemoteConfig{}, err
	}
	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()
	return cfg, nil
}

// AddImages appends imgs to the selection. Entries whose content type is not
// image/* are ignored. When the remaining images would push the selection
// past MaxImages the whole batch is rejected and the selection is unchanged.
func (s *Session) AddImages(imgs ...Image) error {
	accepted := make([]Image, 0, len(imgs))
	for _, img := range imgs {
		if strings.HasPrefix(strings.ToLower(img.ContentType), "image/") {
			accepted = append(accepted, img)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return errs.New(errs.Validation, "submission in progress")
	}
	if len(s.images)+len(accepted) > MaxImages {
		return errs.New(errs.Validation, fmt.Sprintf("at most %d images", MaxImages))
	}
	s.images = append(s.images, accepted...)
	return nil
}

// RemoveImage drops the image at index i of the selection.
func (s *Session) RemoveImage(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return errs.New(errs.Validation, "submission in progress")
	}
	if i < 0 || i >= len(s.images) {
		return errs.New(errs.Validation, fmt.Sprintf("no image at index %d", i))
	}
	s.images = append(s.images[:i:i], s.images[i+1:]...)
	return nil
}

// Reset clears the selection and the uploaded URLs and returns to Idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return
	}
	s.images = nil
	s.urls = nil
	s.state = StateIdle
	s.err = nil
}

// CanSubmit reports whether Submit would start a flow.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && len(s.images) > 0
}

// Images returns a copy of the selection.
func (s *Session) Images() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Image(nil), s.images...)
}

// UploadedURLs returns the URLs published by the current or last submit, in
// upload order.
func (s *Session) UploadedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed submit.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Submit publishes the selection in order and upserts the Bitable row for
// form.ActivityName. Published files are never rolled back; a failed Submit
// can be retried and will publish again under new paths.
func (s *Session) Submit(ctx context.Context, form Form) (Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Result{}, errs.New(errs.Validation, "submission in progress")
	}
	if len(s.images) == 0 {
		s.mu.Unlock()
		return Result{}, errs.New(errs.Validation, "no images selected")
	}
	s.busy = true
	s.urls = nil
	s.err = nil
	images := append([]Image(nil), s.images...)
	s.mu.Unlock()

	run := &submission{
		Session: s,
		id:      uuid.NewString(),
		form:    form,
		images:  images,
		started: s.opts.Now(),
	}
	result, err := run.execute(ctx)

	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	run.record(ctx, result, err)
	return result, err
}

type submission struct {
	*Session
	id      string
	form    Form
	images  []Image
	started time.Time
}

func (r *submission) execute(ctx context.Context) (Result, error) {
	cfg, err := r.LoadConfig(ctx)
	if err != nil {
		return r.fail(errs.Wrap(errs.Validation, err, "configuration failed to load"))
	}
	activity := strings.TrimSpace(r.form.ActivityName)
	if activity == "" {
		return r.fail(errs.New(errs.Validation, "activity name is required"))
	}

	total := len(r.images)
	urls := make([]string, 0, total)
	for i, img := range r.images {
		data := img.Data
		if r.opts.Compress {
			r.transition(Progress{State: StateCompressing, Index: i, Total: total})
			compressed, err := imaging.Compress(data)
			if err != nil {
				return r.fail(errs.Wrap(errs.Validation, err, fmt.Sprintf("compress image %d (%s)", i+1, img.Name)))
			}
			data = compressed
		}

		r.transition(Progress{State: StatePublishing, Index: i, Total: total,
			Message: fmt.Sprintf("uploading image %d/%d", i+1, total)})
		assetPath, fileName := AssetPath(activity, img.Name, r.opts.Now())
		url, err := r.backend.Publish(ctx, assetPath, fileName, data)
		if err != nil {
			return r.fail(classify(err, errs.Publish))
		}
		urls = append(urls, url)
		r.mu.Lock()
		r.urls = append(r.urls, url)
		r.mu.Unlock()
		log.Info().Str("submission", r.id).Int("index", i).Str("path", assetPath).Msg("image published")
	}

	result := Result{SubmissionID: r.id, URLs: urls, Action: ActionSkipped}
	if cfg.FeishuConfigured() {
		r.transition(Progress{State: StateUpserting, Total: total, Message: "writing Feishu record"})
		recordID, action, err := r.upsert(ctx, cfg, activity, urls)
		if err != nil {
			return r.fail(errs.Wrap(errs.KindOf(classify(err, errs.Write)), err, "write to Feishu failed"))
		}
		result.RecordID, result.Action = recordID, action
	} else {
		log.Warn().Str("submission", r.id).Msg("feishu config incomplete, skipping record write")
	}

	result.State = StateDone
	r.transition(Progress{State: StateDone, Total: total, Message: "all done"})
	return result, nil
}

func (r *submission) upsert(ctx context.Context, cfg config.RemoteConfig, activity string, urls []string) (string, RecordAction, error) {
	store, err := r.backend.Authorize(ctx, cfg.Feishu)
	if err != nil {
		return "", "", err
	}
	names := cfg.FieldNames
	recordID, found, err := store.FindRecord(ctx, names.Name, activity)
	if err != nil {
		return "", "", err
	}
	fields := BuildFields(names, r.form, urls)
	if found {
		if err := store.UpdateRecord(ctx, recordID, fields); err != nil {
			return "", "", err
		}
		log.Info().Str("submission", r.id).Str("record_id", recordID).Msg("feishu record updated")
		return recordID, ActionUpdated, nil
	}
	fields[names.Name] = activity
	recordID, err = store.CreateRecord(ctx, fields)
	if err != nil {
		return "", "", err
	}
	log.Info().Str("submission", r.id).Str("record_id", recordID).Msg("feishu record created")
	return recordID, ActionCreated, nil
}

func (r *submission) transition(p Progress) {
	r.mu.Lock()
	r.state = p.State
	r.mu.Unlock()
	if r.opts.Progress != nil {
		r.opts.Progress(p)
	}
}

func (r *submission) fail(err error) (Result, error) {
	r.mu.Lock()
	r.state = StateFailed
	r.err = err
	r.mu.Unlock()
	log.Error().Err(err).Str("submission", r.id).Msg("submission failed")
	if r.opts.Progress != nil {
		r.opts.Progress(Progress{State: StateFailed, Total: len(r.images), Message: errs.Message(err)})
	}
	return Result{SubmissionID: r.id, State: StateFailed}, err
}

func (r *submission) record(ctx context.Context, result Result, err error) {
	if r.opts.Recorder == nil {
		return
	}
	summary := Summary{
		ID:           r.id,
		ActivityName: strings.TrimSpace(r.form.ActivityName),
		State:        result.State,
		URLs:         result.URLs,
		RecordID:     result.RecordID,
		Action:       result.Action,
		CreatedAt:    r.started,
	}
	if err != nil {
		summary.Error = errs.Message(err)
	}
	if recErr := r.opts.Recorder.Record(ctx, summary); recErr != nil {
		log.Warn().Err(recErr).Str("submission", r.id).Msg("record submission summary failed")
	}
}

// classify gives unclassified errors the kind of the step that produced them.
func classify(err error, fallback errs.Kind) error {
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Wrap(fallback, err, "")
}

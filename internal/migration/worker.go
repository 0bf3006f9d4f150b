// Package migration copies media of completed generations from ephemeral
// provider hosting into durable storage.
package migration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/resilience"
	"mediarecon/internal/storage"
)

const (
	DefaultInterval  = 3 * time.Minute
	DefaultBatchSize = 25
)

// Outcome describes what MigrateRecord did with a record.
type Outcome string

const (
	OutcomeMigrated Outcome = "migrated"
	// OutcomeAlreadyMigrated covers records that were migrated before or by a
	// concurrent writer while this attempt ran.
	OutcomeAlreadyMigrated Outcome = "already_migrated"
	OutcomeInFlight        Outcome = "in_flight"
	OutcomeNoMedia         Outcome = "no_media"
)

// Ticker is the subset of time.Ticker the worker uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds the sweep ticker. Tests inject a manual ticker.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// Options wires the worker's collaborators.
type Options struct {
	Repo        domain.GenerationRepository
	Store       storage.Store
	Fetcher     storage.Fetcher
	Thumbnailer storage.Thumbnailer
	Hosts       *storage.HostClassifier
	Interval    time.Duration
	BatchSize   int
	NewTicker   TickerFactory
	Now         func() time.Time
	Logger      *infra.Logger
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned  int      `json:"scanned"`
	Migrated int      `json:"migrated"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Aborted  bool     `json:"aborted"`
	Errors   []string `json:"errors,omitempty"`
}

// Worker runs recurring storage sweeps and migrates single records on demand.
type Worker struct {
	repo      domain.GenerationRepository
	store     storage.Store
	fetcher   storage.Fetcher
	thumbs    storage.Thumbnailer
	hosts     *storage.HostClassifier
	interval  time.Duration
	batchSize int
	newTicker TickerFactory
	now       func() time.Time
	logger    *infra.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	sweepMu sync.Mutex

	flightMu sync.Mutex
	inFlight map[string]struct{}
}

// NewWorker validates opts and fills defaults.
func NewWorker(opts Options) (*Worker, error) {
	if opts.Repo == nil {
		return nil, errors.New("migration: repository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("migration: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("migration: fetcher is required")
	}
	w := &Worker{
		repo:      opts.Repo,
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		thumbs:    opts.Thumbnailer,
		hosts:     opts.Hosts,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		newTicker: opts.NewTicker,
		now:       opts.Now,
		logger:    infra.Component(opts.Logger, "storage_migration"),
		inFlight:  make(map[string]struct{}),
	}
	if w.hosts == nil {
		w.hosts = storage.NewHostClassifier(nil, []string{opts.Store.PublicBaseURL()})
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.newTicker == nil {
		w.newTicker = newTimeTicker
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// Start launches the periodic sweep. Calling Start while running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	ticker := w.newTicker(w.interval)
	go w.loop(ctx, ticker, w.stop, w.done)
	w.logger.Info().Dur("interval", w.interval).Int("batch_size", w.batchSize).Msg("migration: worker started")
}

// Stop cancels the pending tick. A sweep already running finishes normally.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stop)
}

// Done is closed once the loop started by the last Start has exited.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.done
}

// Running reports whether the periodic sweep is scheduled.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) loop(ctx context.Context, ticker Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.stop == stop {
				w.running = false
			}
			w.mu.Unlock()
			return
		case <-stop:
			w.logger.Info().Msg("migration: worker stopped")
			return
		case <-ticker.C():
			res, err := w.TriggerSweep(context.WithoutCancel(ctx))
			if err != nil {
				w.logger.Error().Err(err).Msg("migration: sweep aborted")
				continue
			}
			if res.Scanned > 0 {
				w.logger.Info().
					Int("scanned", res.Scanned).
					Int("migrated", res.Migrated).
					Int("skipped", res.Skipped).
					Int("failed", res.Failed).
					Msg("migration: sweep finished")
			}
		}
	}
}

// TriggerSweep migrates one batch of completed records across all users.
// Overlapping sweeps run one after another.
func (w *Worker) TriggerSweep(ctx context.Context) (SweepResult, error) {
	return w.sweep(ctx, "")
}

// SweepUser migrates the completed records of a single user.
func (w *Worker) SweepUser(ctx context.Context, userID string) (SweepResult, error) {
	if strings.TrimSpace(userID) == "" {
		return SweepResult{}, errors.New("migration: user id is required")
	}
	return w.sweep(ctx, userID)
}

func (w *Worker) sweep(ctx context.Context, userID string) (SweepResult, error) {
	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	var res SweepResult
	records, err := w.repo.FindCompletedWithoutStorage(ctx, userID, w.batchSize)
	if err != nil {
		res.Aborted = true
		return res, fmt.Errorf("migration: list candidates: %w", err)
	}
	res.Scanned = len(records)
	for _, rec := range records {
		outcome, err := w.MigrateRecord(ctx, rec)
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			res.Aborted = true
			res.Errors = append(res.Errors, err.Error())
			return res, err
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", rec.Kind, rec.ID, err))
			w.logger.Warn().
				Err(err).
				Str("generation_id", rec.ID).
				Str("kind", string(rec.Kind)).
				Str("user_id", rec.UserID).
				Msg("migration: record failed")
		case outcome == OutcomeMigrated:
			res.Migrated++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// MigrateRecord copies every media object of rec into durable storage and
// rewrites the record in one guarded update. Nothing is written unless every
// object was stored. A failed attempt is stamped on the record so later
// sweeps try untried records first.
func (w *Worker) MigrateRecord(ctx context.Context, rec domain.Generation) (Outcome, error) {
	outcome, err := w.migrate(ctx, rec)
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) && ctx.Err() == nil {
		w.markAttempt(ctx, rec, err)
	}
	return outcome, err
}

func (w *Worker) markAttempt(ctx context.Context, rec domain.Generation, cause error) {
	if err := w.repo.MarkMigrationAttempt(ctx, rec.Kind, rec.ID, w.now()); err != nil {
		w.logger.Warn().
			Err(err).
			AnErr("cause", cause).
			Str("generation_id", rec.ID).
			Str("kind", string(rec.Kind)).
			Msg("migration: could not record failed attempt")
	}
}

func (w *Worker) migrate(ctx context.Context, rec domain.Generation) (Outcome, error) {
	if rec.Migrated() {
		return OutcomeAlreadyMigrated, nil
	}
	if len(rec.MediaURLs) == 0 {
		return OutcomeNoMedia, nil
	}
	if rec.Status != domain.StatusCompleted {
		return "", fmt.Errorf("migration: record %s is %s, not COMPLETED", rec.ID, rec.Status)
	}
	flightKey := string(rec.Kind) + "/" + rec.ID
	if !w.acquire(flightKey) {
		return OutcomeInFlight, nil
	}
	defer w.release(flightKey)

	log := w.logger.With().Str("generation_id", rec.ID).Str("user_id", rec.UserID).Str("kind", string(rec.Kind)).Logger()
	prefix := storage.ClassifyOperation(rec.OperationType, rec.Prompt, rec.Kind)

	media := make([]string, len(rec.MediaURLs))
	keys := make([]string, len(rec.MediaURLs))
	thumbs := make([]string, len(rec.MediaURLs))
	thumbsComplete := true
	for i, src := range rec.MediaURLs {
		if key, ok := w.durableKey(src); ok {
			media[i], keys[i] = src, key
			thumbsComplete = false
			log.Debug().Str("storage_key", key).Msg("migration: media already durable")
			continue
		}
		obj, err := w.fetcher.Fetch(ctx, src)
		if err != nil {
			return "", fmt.Errorf("fetch media %d: %w", i, err)
		}
		ext := storage.Extension(src, obj.ContentType, rec.Kind)
		contentType := obj.ContentType
		if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
			contentType = storage.ContentTypeFor(ext)
		}
		key := storage.MediaKey(prefix, rec.UserID, rec.ID, i, ext)
		durableURL, err := w.store.Put(ctx, key, obj.Data, contentType)
		if err != nil {
			return "", err
		}
		media[i], keys[i] = durableURL, key
		log.Debug().Str("storage_key", key).Msg("migration: media stored")

		thumbURL, err := w.storeThumbnail(ctx, prefix, rec, i, obj.Data, contentType)
		if err != nil {
			return "", err
		}
		if thumbURL == "" {
			thumbsComplete = false
		}
		thumbs[i] = thumbURL
	}

	patch := domain.GenerationPatch{
		MediaURLs:         media,
		StorageProvider:   domain.StringPtr(w.store.Provider()),
		StorageBucket:     domain.StringPtr(w.store.Bucket()),
		StorageKeys:       keys,
		ThumbnailURLs:     []string{},
		ExpectStatus:      domain.StatusPtr(domain.StatusCompleted),
		RequireUnmigrated: true,
	}
	if thumbsComplete {
		patch.ThumbnailURLs = thumbs
	}
	if err := w.repo.UpdateStatus(ctx, rec.Kind, rec.ID, patch); err != nil {
		if errors.Is(err, domain.ErrStaleRecord) {
			log.Info().Msg("migration: record changed concurrently, skipping")
			return OutcomeAlreadyMigrated, nil
		}
		return "", fmt.Errorf("persist migration: %w", err)
	}
	log.Info().Int("objects", len(keys)).Str("storage_provider", w.store.Provider()).Msg("migration: record migrated")
	return OutcomeMigrated, nil
}

// storeThumbnail returns "" when no thumbnail can be rendered for the media.
func (w *Worker) storeThumbnail(ctx context.Context, prefix string, rec domain.Generation, index int, data []byte, contentType string) (string, error) {
	if w.thumbs == nil {
		return "", nil
	}
	thumb, err := w.thumbs.Thumbnail(ctx, data, contentType)
	if err != nil {
		if !errors.Is(err, storage.ErrUnsupportedMedia) {
			w.logger.Warn().Err(err).Str("generation_id", rec.ID).Int("index", index).Msg("migration: thumbnail render failed")
		}
		return "", nil
	}
	return w.store.Put(ctx, storage.ThumbnailKey(prefix, rec.UserID, rec.ID, index), thumb, "image/jpeg")
}

// durableKey recognizes URLs already in durable storage.
func (w *Worker) durableKey(rawURL string) (string, bool) {
	if key, ok := w.store.KeyFromURL(rawURL); ok {
		return key, true
	}
	if w.hosts.Classify(rawURL) != storage.HostDurable {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	return strings.TrimPrefix(u.Path, "/"), true
}

func (w *Worker) acquire(key string) bool {
	w.flightMu.Lock()
	defer w.flightMu.Unlock()
	if _, busy := w.inFlight[key]; busy {
		return false
	}
	w.inFlight[key] = struct{}{}
	return true
}

func (w *Worker) release(key string) {
	w.flightMu.Lock()
	delete(w.inFlight, key)
	w.flightMu.Unlock()
}

package migration

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediarecon/internal/adapter/repo"
	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/providers/jobstatus"
	"mediarecon/internal/reconcile"
	"mediarecon/internal/resilience"
	"mediarecon/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	base    string
	objects map[string][]byte
	puts    int
	failKey string
}

func newMemStore() *memStore {
	return &memStore{base: "https://durable.example", objects: map[string][]byte{}}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKey != "" && key == s.failKey {
		return "", &storage.WriteError{Key: key, Err: errors.New("bucket unavailable")}
	}
	s.puts++
	s.objects[key] = data
	return s.base + "/" + key, nil
}

func (s *memStore) KeyFromURL(rawURL string) (string, bool) {
	return strings.CutPrefix(rawURL, s.base+"/")
}

func (s *memStore) PublicBaseURL() string { return s.base }
func (s *memStore) Provider() string      { return storage.ProviderS3 }
func (s *memStore) Bucket() string        { return "media" }

type memFetcher struct {
	mu      sync.Mutex
	objects map[string]*storage.Media
	calls   int
}

func (f *memFetcher) Fetch(ctx context.Context, rawURL string) (*storage.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	m, ok := f.objects[rawURL]
	if !ok {
		return nil, errors.New("fetch: status 404")
	}
	return m, nil
}

// countingRepo counts writes reaching the database.
type countingRepo struct {
	domain.GenerationRepository
	mu      sync.Mutex
	updates int
}

func (r *countingRepo) UpdateStatus(ctx context.Context, kind domain.Kind, id string, patch domain.GenerationPatch) error {
	r.mu.Lock()
	r.updates++
	r.mu.Unlock()
	return r.GenerationRepository.UpdateStatus(ctx, kind, id, patch)
}

func (r *countingRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	repo    *countingRepo
	store   *memStore
	fetcher *memFetcher
	worker  *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := infra.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "migration.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	f := &fixture{
		repo:    &countingRepo{GenerationRepository: repo.NewGenerationRepositorySQLite(infra.NewSQLiteRunner(db, zerolog.Nop()))},
		store:   newMemStore(),
		fetcher: &memFetcher{objects: map[string]*storage.Media{}},
	}
	w, err := NewWorker(Options{
		Repo:        f.repo,
		Store:       f.store,
		Fetcher:     f.fetcher,
		Thumbnailer: storage.NewImageThumbnailer(),
		Hosts:       storage.NewHostClassifier([]string{"ephemeral.example"}, []string{f.store.base}),
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	f.worker = w
	return f
}

func (f *fixture) get(t *testing.T, kind domain.Kind, id string) *domain.Generation {
	t.Helper()
	g, err := f.repo.GetByID(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("GetByID %s: %v", id, err)
	}
	return g
}

func TestEndToEndReconcileThenMigrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g := domain.Generation{
		ID:        "G1",
		UserID:    "u1",
		Kind:      domain.KindPhoto,
		JobID:     domain.StringPtr("J1"),
		Status:    domain.StatusProcessing,
		Prompt:    "a lighthouse at dusk",
		CreatedAt: now.Add(-time.Minute),
	}
	if err := f.repo.Create(ctx, &g); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.fetcher.objects["https://ephemeral.example/a.png"] = &storage.Media{Data: pngBytes(t), ContentType: "image/png"}

	status := &jobstatus.Status{JobID: "J1", State: jobstatus.StateSucceeded, Output: []string{"https://ephemeral.example/a.png"}}
	decision := reconcile.New(0).Reconcile(g, status, now)
	if decision.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED decision, got %#v", decision)
	}
	if err := f.repo.UpdateStatus(ctx, g.Kind, g.ID, decision.Patch); err != nil {
		t.Fatalf("persist decision: %v", err)
	}
	completed := f.get(t, domain.KindPhoto, "G1")
	if completed.Status != domain.StatusCompleted || completed.MediaURLs[0] != "https://ephemeral.example/a.png" {
		t.Fatalf("unexpected reconciled record: %#v", completed)
	}

	res, err := f.worker.TriggerSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 1 || res.Migrated != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result: %#v", res)
	}
	if _, ok := f.store.objects["generated/u1/G1_0.png"]; !ok {
		t.Fatalf("media not stored at expected key: %v", f.store.objects)
	}
	if _, ok := f.store.objects["thumbnails/generated/u1/G1_0.jpg"]; !ok {
		t.Fatalf("thumbnail not stored at expected key")
	}
	migrated := f.get(t, domain.KindPhoto, "G1")
	if len(migrated.MediaURLs) != 1 || migrated.MediaURLs[0] != "https://durable.example/generated/u1/G1_0.png" {
		t.Fatalf("media not rewritten: %v", migrated.MediaURLs)
	}
	if migrated.StorageProvider == nil || *migrated.StorageProvider != "s3" || *migrated.StorageBucket != "media" {
		t.Fatalf("storage provider not recorded: %#v", migrated)
	}
	if len(migrated.StorageKeys) != 1 || migrated.StorageKeys[0] != "generated/u1/G1_0.png" {
		t.Fatalf("unexpected storage keys: %v", migrated.StorageKeys)
	}
	if len(migrated.ThumbnailURLs) != 1 || migrated.ThumbnailURLs[0] != "https://durable.example/thumbnails/generated/u1/G1_0.jpg" {
		t.Fatalf("unexpected thumbnails: %v", migrated.ThumbnailURLs)
	}

	writes, puts, fetches := f.repo.writes(), f.store.puts, f.fetcher.calls
	res, err = f.worker.TriggerSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Scanned != 0 {
		t.Fatalf("migrated record selected again: %#v", res)
	}
	if f.repo.writes() != writes || f.store.puts != puts || f.fetcher.calls != fetches {
		t.Fatalf("repeat sweep must not write, upload or fetch")
	}
}

func TestMigrationIsRecordAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := domain.Generation{
		ID:            "G2",
		UserID:        "u1",
		Kind:          domain.KindPhoto,
		JobID:         domain.StringPtr("J2"),
		Status:        domain.StatusCompleted,
		OperationType: domain.OperationEdited,
		MediaURLs:     []string{"https://ephemeral.example/a.png", "https://ephemeral.example/b.png"},
	}
	if err := f.repo.Create(ctx, &g); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.fetcher.objects["https://ephemeral.example/a.png"] = &storage.Media{Data: pngBytes(t), ContentType: "image/png"}
	f.fetcher.objects["https://ephemeral.example/b.png"] = &storage.Media{Data: pngBytes(t), ContentType: "image/png"}
	f.store.failKey = "edited/u1/G2_1.png"

	res, err := f.worker.TriggerSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Failed != 1 || res.Migrated != 0 || len(res.Errors) != 1 {
		t.Fatalf("expected one failed record, got %#v", res)
	}
	if f.repo.writes() != 0 {
		t.Fatalf("partial migration must not be written")
	}
	got := f.get(t, domain.KindPhoto, "G2")
	if got.Migrated() || got.MediaURLs[0] != "https://ephemeral.example/a.png" {
		t.Fatalf("record must stay unmigrated: %#v", got)
	}

	f.store.failKey = ""
	res, err = f.worker.TriggerSweep(ctx)
	if err != nil || res.Migrated != 1 {
		t.Fatalf("retry sweep should migrate, got %#v, %v", res, err)
	}
	got = f.get(t, domain.KindPhoto, "G2")
	if got.StorageKeys[0] != "edited/u1/G2_0.png" || got.StorageKeys[1] != "edited/u1/G2_1.png" {
		t.Fatalf("unexpected keys after retry: %v", got.StorageKeys)
	}
}

func TestExpiredRecordsDoNotStarveNewerOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Now().UTC()
	w, err := NewWorker(Options{
		Repo:      f.repo,
		Store:     f.store,
		Fetcher:   f.fetcher,
		BatchSize: 2,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	for i, id := range []string{"old1", "old2", "fresh"} {
		g := domain.Generation{
			ID:        id,
			UserID:    "u1",
			Kind:      domain.KindPhoto,
			JobID:     domain.StringPtr("J-" + id),
			Status:    domain.StatusCompleted,
			MediaURLs: []string{"https://ephemeral.example/" + id + ".png"},
			CreatedAt: clock.Add(time.Duration(i-3) * time.Hour),
		}
		if err := f.repo.Create(ctx, &g); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	// old1 and old2 point at expired URLs and answer 404 forever.
	f.fetcher.objects["https://ephemeral.example/fresh.png"] = &storage.Media{Data: pngBytes(t), ContentType: "image/png"}

	for sweep := 1; sweep <= 3; sweep++ {
		if _, err := w.TriggerSweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", sweep, err)
		}
		if f.get(t, domain.KindPhoto, "fresh").Migrated() {
			break
		}
	}
	if !f.get(t, domain.KindPhoto, "fresh").Migrated() {
		t.Fatalf("fresh record never migrated behind expired ones")
	}
	for _, id := range []string{"old1", "old2"} {
		if f.get(t, domain.KindPhoto, id).Migrated() {
			t.Fatalf("%s must stay unmigrated", id)
		}
	}
}

func TestMigrationKeepsDurableURLsAndVideoWithoutThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := domain.Generation{
		ID:        "V1",
		UserID:    "u2",
		Kind:      domain.KindVideo,
		JobID:     domain.StringPtr("J3"),
		Status:    domain.StatusCompleted,
		MediaURLs: []string{"https://cdn.unknown.example/out"},
	}
	if err := f.repo.Create(ctx, &g); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.fetcher.objects["https://cdn.unknown.example/out"] = &storage.Media{Data: []byte("mp4"), ContentType: "video/mp4"}

	outcome, err := f.worker.MigrateRecord(ctx, g)
	if err != nil || outcome != OutcomeMigrated {
		t.Fatalf("MigrateRecord = %s, %v", outcome, err)
	}
	got := f.get(t, domain.KindVideo, "V1")
	if got.MediaURLs[0] != "https://durable.example/videos/u2/V1_0.mp4" {
		t.Fatalf("unexpected video url %v", got.MediaURLs)
	}
	if len(got.ThumbnailURLs) != 0 {
		t.Fatalf("video without thumbnailer must have no thumbnails: %v", got.ThumbnailURLs)
	}

	durable := domain.Generation{
		ID:        "G3",
		UserID:    "u2",
		Kind:      domain.KindPhoto,
		JobID:     domain.StringPtr("J4"),
		Status:    domain.StatusCompleted,
		MediaURLs: []string{"https://durable.example/generated/u2/G3_0.png"},
	}
	if err := f.repo.Create(ctx, &durable); err != nil {
		t.Fatalf("create: %v", err)
	}
	puts := f.store.puts
	if outcome, err := f.worker.MigrateRecord(ctx, durable); err != nil || outcome != OutcomeMigrated {
		t.Fatalf("MigrateRecord durable = %s, %v", outcome, err)
	}
	if f.store.puts != puts {
		t.Fatalf("durable media must not be uploaded again")
	}
	got = f.get(t, domain.KindPhoto, "G3")
	if got.StorageKeys[0] != "generated/u2/G3_0.png" || got.MediaURLs[0] != durable.MediaURLs[0] {
		t.Fatalf("unexpected durable record: %#v", got)
	}
}

func TestMigrateRecordSkipsStaleAndInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := domain.Generation{
		ID:        "G4",
		UserID:    "u1",
		Kind:      domain.KindPhoto,
		JobID:     domain.StringPtr("J5"),
		Status:    domain.StatusCompleted,
		MediaURLs: []string{"https://ephemeral.example/c.png"},
	}
	if err := f.repo.Create(ctx, &g); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.fetcher.objects["https://ephemeral.example/c.png"] = &storage.Media{Data: pngBytes(t), ContentType: "image/png"}

	if !f.worker.acquire("photo/G4") {
		t.Fatalf("acquire failed")
	}
	if outcome, err := f.worker.MigrateRecord(ctx, g); err != nil || outcome != OutcomeInFlight {
		t.Fatalf("expected in-flight skip, got %s, %v", outcome, err)
	}
	f.worker.release("photo/G4")

	if outcome, err := f.worker.MigrateRecord(ctx, g); err != nil || outcome != OutcomeMigrated {
		t.Fatalf("first migration = %s, %v", outcome, err)
	}
	// the caller still holds the pre-migration snapshot
	if outcome, err := f.worker.MigrateRecord(ctx, g); err != nil || outcome != OutcomeAlreadyMigrated {
		t.Fatalf("stale snapshot must be skipped, got %s, %v", outcome, err)
	}
}

type openCircuitRepo struct {
	domain.GenerationRepository
	records []domain.Generation
	updates int
}

func (r *openCircuitRepo) FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]domain.Generation, error) {
	return r.records, nil
}

func (r *openCircuitRepo) UpdateStatus(ctx context.Context, kind domain.Kind, id string, patch domain.GenerationPatch) error {
	r.updates++
	return &resilience.CircuitOpenError{Resource: "database"}
}

func TestSweepAbortsWhenCircuitOpens(t *testing.T) {
	fetcher := &memFetcher{objects: map[string]*storage.Media{
		"https://ephemeral.example/a.png": {Data: []byte("x"), ContentType: "image/png"},
	}}
	rec := domain.Generation{UserID: "u1", Kind: domain.KindPhoto, Status: domain.StatusCompleted, MediaURLs: []string{"https://ephemeral.example/a.png"}}
	first, second := rec, rec
	first.ID, second.ID = "G1", "G2"
	r := &openCircuitRepo{records: []domain.Generation{first, second}}
	w, err := NewWorker(Options{Repo: r, Store: newMemStore(), Fetcher: fetcher})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	res, err := w.TriggerSweep(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if !res.Aborted || r.updates != 1 {
		t.Fatalf("sweep must stop at the first open circuit: %#v updates=%d", res, r.updates)
	}
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

type signalRepo struct {
	domain.GenerationRepository
	swept chan struct{}
}

func (r *signalRepo) FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]domain.Generation, error) {
	r.swept <- struct{}{}
	return nil, nil
}

func TestWorkerStartStopLifecycle(t *testing.T) {
	ticker := newManualTicker()
	var created int
	r := &signalRepo{swept: make(chan struct{}, 1)}
	w, err := NewWorker(Options{
		Repo:    r,
		Store:   newMemStore(),
		Fetcher: &memFetcher{},
		NewTicker: func(d time.Duration) Ticker {
			created++
			if d != DefaultInterval {
				t.Errorf("unexpected interval %s", d)
			}
			return ticker
		},
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	if created != 1 || !w.Running() {
		t.Fatalf("second Start must be a no-op, tickers=%d", created)
	}

	ticker.ch <- time.Now()
	select {
	case <-r.swept:
	case <-time.After(2 * time.Second):
		t.Fatalf("tick did not trigger a sweep")
	}

	w.Stop()
	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	select {
	case <-ticker.stopped:
	default:
		t.Fatalf("ticker not stopped")
	}
	if w.Running() {
		t.Fatalf("worker still reports running")
	}
}

package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediarecon/internal/domain"
	"mediarecon/internal/sqlinline"
)

type stubExecutor struct {
	tag   string
	err   error
	row   pgx.Row
	query string
	args  []any
	execs int
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs++
	s.query = query
	s.args = args
	return pgconn.NewCommandTag(s.tag), s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.query = query
	s.args = args
	return s.row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

func newPGRepo(exec *stubExecutor) *GenerationRepositoryPG {
	repo := NewGenerationRepository(exec)
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return repo
}

func TestPGUpdateStatusArguments(t *testing.T) {
	exec := &stubExecutor{tag: "UPDATE 1"}
	repo := newPGRepo(exec)
	completed := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	elapsed := int64(4250)
	err := repo.UpdateStatus(context.Background(), domain.KindVideo, "V1", domain.GenerationPatch{
		Status:           domain.StatusPtr(domain.StatusCompleted),
		MediaURLs:        []string{"https://ephemeral.example/v.mp4"},
		ClearError:       true,
		CompletedAt:      &completed,
		ProcessingTimeMs: &elapsed,
		ExpectStatus:     domain.StatusPtr(domain.StatusProcessing),
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if exec.query != sqlinline.QUpdateVideoGeneration {
		t.Fatalf("video patch must use the video statement")
	}
	if len(exec.args) != 14 {
		t.Fatalf("expected 14 args, got %d", len(exec.args))
	}
	if exec.args[0] != "V1" || exec.args[1] != "PROCESSING" || exec.args[2] != "COMPLETED" {
		t.Fatalf("unexpected leading args: %#v", exec.args[:3])
	}
	if exec.args[4] != nil || exec.args[7] != nil {
		t.Fatalf("untouched arrays must be sent as NULL: %#v", exec.args)
	}
	if exec.args[9] != true || exec.args[12] != false {
		t.Fatalf("unexpected flags: clear=%v unmigrated=%v", exec.args[9], exec.args[12])
	}
}

func TestPGMarkMigrationAttempt(t *testing.T) {
	exec := &stubExecutor{tag: "UPDATE 1"}
	repo := newPGRepo(exec)
	at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	if err := repo.MarkMigrationAttempt(context.Background(), domain.KindVideo, "V1", at); err != nil {
		t.Fatalf("MarkMigrationAttempt: %v", err)
	}
	if exec.query != sqlinline.QMarkVideoGenerationMigrationAttempt {
		t.Fatalf("video attempt must use the video statement")
	}
	if len(exec.args) != 2 || exec.args[0] != "V1" || exec.args[1] != at.UTC() {
		t.Fatalf("unexpected args: %#v", exec.args)
	}
	if !strings.Contains(sqlinline.QSelectUnmigratedGenerations, "migration_attempted_at asc nulls first") {
		t.Fatalf("unmigrated selection must put untried records first")
	}
}

func TestPGUpdateStatusMissedRows(t *testing.T) {
	exec := &stubExecutor{tag: "UPDATE 0"}
	repo := newPGRepo(exec)

	guarded := domain.GenerationPatch{Status: domain.StatusPtr(domain.StatusFailed), ExpectStatus: domain.StatusPtr(domain.StatusProcessing)}
	if err := repo.UpdateStatus(context.Background(), domain.KindPhoto, "G1", guarded); !errors.Is(err, domain.ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord, got %v", err)
	}
	unguarded := domain.GenerationPatch{Status: domain.StatusPtr(domain.StatusFailed)}
	if err := repo.UpdateStatus(context.Background(), domain.KindPhoto, "G1", unguarded); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUpdateStatusEmptyPatchIsNoop(t *testing.T) {
	exec := &stubExecutor{tag: "UPDATE 0"}
	repo := newPGRepo(exec)
	if err := repo.UpdateStatus(context.Background(), domain.KindPhoto, "G1", domain.GenerationPatch{ExpectStatus: domain.StatusPtr(domain.StatusProcessing)}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if exec.execs != 0 {
		t.Fatalf("empty patch must not hit the database")
	}
}

func TestPGGetByIDNotFound(t *testing.T) {
	exec := &stubExecutor{row: errRow{err: pgx.ErrNoRows}}
	repo := newPGRepo(exec)
	if _, err := repo.GetByID(context.Background(), domain.KindPhoto, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGGetByIDWrapsDriverErrors(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	exec := &stubExecutor{row: errRow{err: pgErr}}
	repo := newPGRepo(exec)
	_, err := repo.GetByID(context.Background(), domain.KindPhoto, "G1")
	var got *pgconn.PgError
	if !errors.As(err, &got) || got.Code != "08006" {
		t.Fatalf("driver error must stay inspectable, got %v", err)
	}
}

func TestPGCreateDefaults(t *testing.T) {
	exec := &stubExecutor{tag: "INSERT 0 1"}
	repo := newPGRepo(exec)
	g := &domain.Generation{UserID: "u1", Kind: domain.KindPhoto, Prompt: "[EDIT] brighter"}
	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.ID == "" || g.Status != domain.StatusPending {
		t.Fatalf("defaults not applied: %#v", g)
	}
	if !strings.Contains(exec.query, "insert into generations") {
		t.Fatalf("unexpected insert statement")
	}
	if err := repo.Create(context.Background(), &domain.Generation{}); err == nil {
		t.Fatalf("expected error without user id")
	}
}

func TestPGAttachJobIDStale(t *testing.T) {
	exec := &stubExecutor{tag: "UPDATE 0"}
	repo := newPGRepo(exec)
	if err := repo.AttachJobID(context.Background(), domain.KindPhoto, "G1", "J1"); !errors.Is(err, domain.ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord, got %v", err)
	}
}

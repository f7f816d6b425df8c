package claim

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/hook"
	"github.com/claimboard/claimboard/internal/task"
	taskrepo "github.com/claimboard/claimboard/internal/task/repositoryimpl"
	"github.com/claimboard/claimboard/internal/telemetry"
	"github.com/claimboard/claimboard/pkg/cerr"
	"github.com/claimboard/claimboard/pkg/storage"
)

type stubBoards struct {
	b *board.Board
}

func (s stubBoards) Get(ctx context.Context, id string) (*board.Board, error) {
	if id != s.b.ID {
		return nil, cerr.NewError(cerr.NotFound, "board not found", nil)
	}
	return s.b, nil
}

func (s stubBoards) List(ctx context.Context) ([]*board.Board, error) {
	return []*board.Board{s.b}, nil
}

func (s stubBoards) Save(ctx context.Context, b *board.Board) error {
	return nil
}

// recordSink collects event names for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordSink) Emit(_ context.Context, name string, _ string, _ map[string]string) {
	s.mu.Lock()
	s.events = append(s.events, name)
	s.mu.Unlock()
}

func (s *recordSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type fixture struct {
	repo        task.Repository
	coordinator *Coordinator
	sink        *recordSink
}

// newFixture wires a coordinator over a local YAML repository. hookDoc, when
// not empty, is written as the hook document.
func newFixture(t *testing.T, hookDoc string) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := taskrepo.NewYAMLRepository(store)

	hookDir := t.TempDir()
	hookPath := filepath.Join(hookDir, "hooks.conf")
	if hookDoc != "" {
		require.NoError(t, os.WriteFile(hookPath, []byte(hookDoc), 0o644))
	}
	sink := &recordSink{}
	hooks := hook.NewOrchestrator(hook.NewLoader(hookPath), hook.NewExecutor(hookDir), telemetry.NopSink{}, 5*time.Second)

	boards := stubBoards{b: board.DefaultBoard(time.Now())}
	return &fixture{
		repo:        repo,
		coordinator: NewCoordinator(repo, boards, hooks, sink, time.Hour),
		sink:        sink,
	}
}

func (f *fixture) seed(t *testing.T, tk *task.Task) {
	t.Helper()
	seedTask(t, f.repo, tk)
}

func TestCoordinator_Claim(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	before := time.Now()
	claimed, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	require.NoError(t, err)

	assert.Equal(t, "t1", claimed.ID)
	assert.Equal(t, task.StatusLeased, claimed.Status)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.WithinDuration(t, before.Add(time.Hour), *claimed.LeaseExpiresAt, 5*time.Second)
	assert.Contains(t, f.sink.names(), telemetry.EventTaskClaimed)
}

func TestCoordinator_ClaimEmpty(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestCoordinator_ClaimNonClaimableColumn(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.coordinator.Claim(context.Background(), "", "backlog", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestCoordinator_ConcurrentClaims_SingleWinner(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	const callers = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			// Losers see either a conflict on the same candidate or no
			// remaining eligible task.
			ok := cerr.IsCode(err, cerr.Aborted) || cerr.IsCode(err, cerr.NotFound)
			assert.True(t, ok, "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestCoordinator_BeforeClaimHookFailureAborts(t *testing.T) {
	f := newFixture(t, "[worker]\nbefore_claim: exit 1\n")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	// The claim was never attempted.
	got, err := f.repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, got.Status)
	assert.Nil(t, got.LeaseExpiresAt)
}

func TestCoordinator_Unclaim(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	require.NoError(t, err)

	released, err := f.coordinator.Unclaim(context.Background(), "t1", "wrong agent", task.Agent{Name: "worker"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, released.Status)
	assert.Nil(t, released.LeasedAt)
	assert.Nil(t, released.LeaseExpiresAt)

	// A second unclaim finds the task no longer leased.
	_, err = f.coordinator.Unclaim(context.Background(), "t1", "again", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestCoordinator_UnclaimUnknownTask(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.coordinator.Unclaim(context.Background(), "ghost", "", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestCoordinator_Complete(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	require.NoError(t, err)

	done, err := f.coordinator.Complete(context.Background(), "t1", task.Agent{Name: "worker"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, done.Status)
	assert.Nil(t, done.LeaseExpiresAt)
}

func TestCoordinator_BeforeCompleteHookFailureKeepsLease(t *testing.T) {
	f := newFixture(t, "[worker]\nbefore_complete: echo checks failed; exit 2\n")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	_, err := f.coordinator.Claim(context.Background(), "", "", task.Agent{Name: "worker"})
	require.NoError(t, err)

	_, err = f.coordinator.Complete(context.Background(), "t1", task.Agent{Name: "worker"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	got, err := f.repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusLeased, got.Status)
}

func TestCoordinator_CompleteRequiresLease(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	_, err := f.coordinator.Complete(context.Background(), "t1", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestCoordinator_Move(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "backlog", CreatedAt: time.Now()})

	moved, err := f.coordinator.Move(context.Background(), "t1", "ready", task.Agent{Name: "worker"})
	require.NoError(t, err)
	assert.Equal(t, "ready", moved.ColumnID)
	assert.Contains(t, f.sink.names(), telemetry.EventTaskMoved)
}

func TestCoordinator_MoveBlockedByEnterHook(t *testing.T) {
	f := newFixture(t, "[worker]\nbefore_column_enter [ready]: exit 1\n")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "backlog", CreatedAt: time.Now()})

	_, err := f.coordinator.Move(context.Background(), "t1", "ready", task.Agent{Name: "worker"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	got, err := f.repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "backlog", got.ColumnID)
}

func TestCoordinator_MoveToUnknownColumn(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, &task.Task{ID: "t1", ColumnID: "backlog", CreatedAt: time.Now()})

	_, err := f.coordinator.Move(context.Background(), "t1", "nowhere", task.Agent{Name: "worker"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

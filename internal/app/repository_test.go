package app_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ember/internal/app"
	"ember/internal/domain/task"
	"ember/internal/store"
)

func newTestRepository(t *testing.T) *app.Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.sqlite")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return app.New(s)
}

func TestCreateTaskDefaults(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "say hi"})
	require.NoError(t, err)
	require.Equal(t, "Untitled task", got.Title)
	require.Equal(t, 3, got.Priority)
	require.Equal(t, task.StatusQueued, got.Status)
	require.Equal(t, task.ModeAuto, got.Mode)
	require.Equal(t, 0, got.AttemptCount)
	require.Equal(t, 3, got.MaxAttempts)

	events, err := repo.ListEvents(ctx, 10, &got.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "task_created", events[0].Message)
}

func TestCreateTaskClampsPriority(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	high, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "x", Priority: 99})
	require.NoError(t, err)
	require.Equal(t, 5, high.Priority)

	low, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "x", Priority: -1})
	require.NoError(t, err)
	require.Equal(t, 1, low.Priority)
}

func TestCreateTaskRejectsEmptyPrompt(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.CreateTask(context.Background(), app.CreateTaskInput{Prompt: "   "})
	require.ErrorIs(t, err, app.ErrValidation)
}

// TestClaimNextTaskSingleWinner grounds spec.md §8's safety invariant
// "a claim succeeds only by conditional update on status='queued'; two
// workers racing for the same task cannot both win," adapted from the
// reference stack's TestPostgresStore_TryClaimTaskSingleWinner.
func TestClaimNextTaskSingleWinner(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "race"})
	require.NoError(t, err)

	const workers = 8
	var wins int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			claimed, err := repo.ClaimNextTask(ctx, "worker-race", time.Minute)
			require.NoError(t, err)
			if claimed != nil && claimed.ID == created.ID {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins)
}

func TestTaskLeaseLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "lifecycle"})
	require.NoError(t, err)

	claimed, err := repo.ClaimNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, created.ID, claimed.ID)

	// Heartbeat from the wrong owner is a silent no-op, never an error.
	require.NoError(t, repo.Heartbeat(ctx, created.ID, "w2", time.Minute))

	handle, err := repo.StartAttempt(ctx, created.ID, "w1")
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Equal(t, 1, handle.AttemptNo)

	require.NoError(t, repo.Heartbeat(ctx, created.ID, "w1", 2*time.Minute))

	resultStatus, err := repo.CompleteAttempt(ctx, created.ID, "w1", task.CompleteResult{
		Succeeded:  true,
		FinalPhase: "report",
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, resultStatus)

	got, err := repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.Empty(t, got.LeaseOwner)
	require.Nil(t, got.LeaseExpiresAt)
}

func TestRetryOnFailureThenSuccess(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "retry", MaxAttempts: 3})
	require.NoError(t, err)

	_, err = repo.ClaimNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	_, err = repo.StartAttempt(ctx, created.ID, "w1")
	require.NoError(t, err)
	firstStatus, err := repo.CompleteAttempt(ctx, created.ID, "w1", task.CompleteResult{
		Succeeded: false, ErrorMessage: "boom", FinalPhase: "execute",
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusQueued, firstStatus, "attempts remain, so the handler must be able to tell this was requeued, not a terminal failure")

	after1, err := repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusQueued, after1.Status)
	require.Equal(t, 1, after1.AttemptCount)

	_, err = repo.ClaimNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	handle, err := repo.StartAttempt(ctx, created.ID, "w1")
	require.NoError(t, err)
	require.Equal(t, 2, handle.AttemptNo)
	secondStatus, err := repo.CompleteAttempt(ctx, created.ID, "w1", task.CompleteResult{
		Succeeded: true, FinalPhase: "report",
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, secondStatus)

	final, err := repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, final.Status)
	require.Equal(t, 2, final.AttemptCount)

	attempts, err := repo.ListAttempts(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
}

func TestLeaseExpiryReclaim(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateTask(ctx, app.CreateTaskInput{Prompt: "expire", MaxAttempts: 3})
	require.NoError(t, err)

	_, err = repo.ClaimNextTask(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = repo.StartAttempt(ctx, created.ID, "w1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	claimed, err := repo.ClaimNextTask(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, created.ID, claimed.ID)

	handle, err := repo.StartAttempt(ctx, created.ID, "w2")
	require.NoError(t, err)
	require.Equal(t, 2, handle.AttemptNo)
}

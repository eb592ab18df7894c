package durable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
)

// memRunStore is an in-memory WorkflowRunRepository for runner tests.
type memRunStore struct {
	runs        map[string]*port.WorkflowRun
	checkpoints map[string][]byte
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		runs:        make(map[string]*port.WorkflowRun),
		checkpoints: make(map[string][]byte),
	}
}

func (m *memRunStore) GetRun(_ context.Context, runID string) (*port.WorkflowRun, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (m *memRunStore) CreateRun(_ context.Context, runID, name string) error {
	if _, ok := m.runs[runID]; ok {
		return nil
	}
	m.runs[runID] = &port.WorkflowRun{RunID: runID, Name: name, Status: port.RunStatusRunning}
	return nil
}

func (m *memRunStore) CompleteRun(_ context.Context, runID string, output []byte) error {
	run, ok := m.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = port.RunStatusCompleted
	run.Output = output
	return nil
}

func (m *memRunStore) FailRun(_ context.Context, runID string, lastError string) error {
	run, ok := m.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = port.RunStatusFailed
	run.LastError = lastError
	return nil
}

func (m *memRunStore) GetCheckpoint(_ context.Context, runID, stepName string) ([]byte, error) {
	result, ok := m.checkpoints[runID+"/"+stepName]
	if !ok {
		return nil, nil
	}
	return result, nil
}

func (m *memRunStore) SaveCheckpoint(_ context.Context, runID, stepName string, result []byte) error {
	m.checkpoints[runID+"/"+stepName] = result
	return nil
}

// memTxManager mimics transactional semantics without a database: on error
// every checkpoint saved inside fn is discarded.
type memTxManager struct {
	store  *memRunStore
	begins int
}

func (m *memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.begins++
	snapshot := make(map[string][]byte, len(m.store.checkpoints))
	for k, v := range m.store.checkpoints {
		snapshot[k] = v
	}
	if err := fn(ctx); err != nil {
		m.store.checkpoints = snapshot
		return err
	}
	return nil
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestRunner(store *memRunStore, attempts int) (*Runner, *memTxManager) {
	tx := &memTxManager{store: store}
	return NewRunner(store, tx, fastRetry(attempts), zap.NewNop()), tx
}

func TestRun_CompletesAndStoresOutput(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	out, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, port.RunStatusCompleted, store.runs["run-1"].Status)
	assert.Equal(t, `"done"`, string(store.runs["run-1"].Output))
}

func TestRun_CompletedRunReplaysWithoutExecuting(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	calls := 0
	workflow := func(ctx context.Context, fl *Flow) (int, error) {
		calls++
		return 42, nil
	}

	out, err := Run(context.Background(), runner, "run-1", "test", workflow)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, calls)

	// Same run id again: output replayed, workflow body not executed.
	out, err = Run(context.Background(), runner, "run-1", "test", workflow)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, calls, "completed workflow must not re-execute")
}

func TestRun_FailureMarksRunFailed(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 1)

	_, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return "", errors.New("extraction exploded")
	})
	require.Error(t, err)
	assert.Equal(t, port.RunStatusFailed, store.runs["run-1"].Status)
	assert.Contains(t, store.runs["run-1"].LastError, "extraction exploded")
}

func TestRun_FailedRunResumesSkippingCheckpointedSteps(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 1)

	stepACalls := 0
	stepBCalls := 0
	workflow := func(fail bool) func(ctx context.Context, fl *Flow) (string, error) {
		return func(ctx context.Context, fl *Flow) (string, error) {
			a, err := Step(ctx, fl, "step-a", func(ctx context.Context) (string, error) {
				stepACalls++
				return "a-result", nil
			})
			if err != nil {
				return "", err
			}
			if fail {
				return "", errors.New("crash between steps")
			}
			return Step(ctx, fl, "step-b", func(ctx context.Context) (string, error) {
				stepBCalls++
				return a + "+b", nil
			})
		}
	}

	_, err := Run(context.Background(), runner, "run-1", "test", workflow(true))
	require.Error(t, err)
	assert.Equal(t, 1, stepACalls)
	assert.Equal(t, 0, stepBCalls)

	// Resume: step-a is checkpointed and must not run again.
	out, err := Run(context.Background(), runner, "run-1", "test", workflow(false))
	require.NoError(t, err)
	assert.Equal(t, "a-result+b", out)
	assert.Equal(t, 1, stepACalls, "checkpointed step must not re-execute on resume")
	assert.Equal(t, 1, stepBCalls)
}

func TestStep_RetriesTransientFailures(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	calls := 0
	out, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Step(ctx, fl, "flaky", func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestStep_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	calls := 0
	_, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Step(ctx, fl, "broken", func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("permanent")
		})
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, port.RunStatusFailed, store.runs["run-1"].Status)
}

func TestStep_DoesNotRetryContextCancellation(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	calls := 0
	_, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Step(ctx, fl, "cancelled", func(ctx context.Context) (string, error) {
			calls++
			return "", context.Canceled
		})
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "context cancellation must not be retried")
	assert.Contains(t, err.Error(), "after 1 attempt(s)",
		"the failure must report how often the step actually ran")
}

func TestTransaction_CheckpointCommitsWithWrites(t *testing.T) {
	store := newMemRunStore()
	runner, tx := newTestRunner(store, 3)

	out, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Transaction(ctx, fl, "write", func(txCtx context.Context) (string, error) {
			return "written", nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "written", out)
	assert.Equal(t, 1, tx.begins)

	cp, err := store.GetCheckpoint(context.Background(), "run-1", "write")
	require.NoError(t, err)
	assert.Equal(t, `"written"`, string(cp))
}

func TestTransaction_RollbackDiscardsCheckpoint(t *testing.T) {
	store := newMemRunStore()
	runner, _ := newTestRunner(store, 3)

	_, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Transaction(ctx, fl, "write", func(txCtx context.Context) (string, error) {
			return "", errors.New("constraint violation")
		})
	})
	require.Error(t, err)

	cp, err := store.GetCheckpoint(context.Background(), "run-1", "write")
	require.NoError(t, err)
	assert.Nil(t, cp, "a rolled-back transaction must leave no checkpoint")
}

func TestTransaction_IsNotRetried(t *testing.T) {
	store := newMemRunStore()
	runner, tx := newTestRunner(store, 3)

	calls := 0
	_, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Transaction(ctx, fl, "write", func(txCtx context.Context) (string, error) {
			calls++
			return "", errors.New("boom")
		})
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, tx.begins)
}

func TestTransaction_SkippedWhenCheckpointed(t *testing.T) {
	store := newMemRunStore()
	runner, tx := newTestRunner(store, 3)
	require.NoError(t, store.SaveCheckpoint(context.Background(), "run-1", "write", []byte(`"stored"`)))

	out, err := Run(context.Background(), runner, "run-1", "test", func(ctx context.Context, fl *Flow) (string, error) {
		return Transaction(ctx, fl, "write", func(txCtx context.Context) (string, error) {
			t.Fatal("transaction body must not run when checkpointed")
			return "", nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "stored", out)
	assert.Equal(t, 0, tx.begins)
}

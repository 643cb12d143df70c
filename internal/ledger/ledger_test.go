package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/testutil"
)

type recordingObserver struct {
	mu      sync.Mutex
	changed []string
	deleted []string
}

func (o *recordingObserver) JobChanged(projectID string, job *model.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, job.ID())
}

func (o *recordingObserver) JobDeleted(projectID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, jobID)
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *testutil.FakeCompute) {
	t.Helper()
	records := store.NewRecordStore(client.NewMemoryStore("bucket"), "projects", logging.Discard())
	compute := testutil.NewFakeCompute()
	l := New(records, compute, logging.Discard(), opts...)
	t.Cleanup(l.Wait)
	return l, compute
}

func automlJob(status model.JobStatus, leaderboard string) *model.Job {
	j := model.NewJob("AutoML build "+leaderboard, 0.3, &model.Key{Name: leaderboard, Type: model.KeyTypeLeaderboard}, time.Now())
	if status != model.JobStatusRunning {
		j.Status = status
		j.Progress = 1
	}
	return j
}

func TestConcurrentUpsertAndDeleteAreSerialized(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	const writers = 40
	jobs := make([]*model.Job, writers)
	for i := range jobs {
		jobs[i] = model.NewJob(fmt.Sprintf("Parse %d", i), 0.2, nil, time.Now())
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Upsert(ctx, "p1", j))
		}()
	}
	wg.Wait()

	for i := 0; i < writers; i += 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Delete(ctx, "p1", jobs[i].ID()))
		}()
	}
	wg.Wait()

	got, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	require.Len(t, got, writers/2)

	seen := make(map[string]bool)
	for _, j := range got {
		assert.False(t, seen[j.ID()], "duplicate key %s", j.ID())
		seen[j.ID()] = true
	}
	for i := 1; i < writers; i += 2 {
		assert.True(t, seen[jobs[i].ID()], "lost update for %s", jobs[i].ID())
	}
}

func TestUpsertReplacesByKey(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	j := model.NewJob("Parse Schema", 0.2, nil, time.Now())
	require.NoError(t, l.Upsert(ctx, "p1", j))

	j.Advance(0.6, "parsing")
	require.NoError(t, l.Upsert(ctx, "p1", j))

	got, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.6, float64(got[0].Progress), 1e-9)
}

func TestUpsertOverTerminalIsConflict(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	j := model.NewJob("Export Model", 0.5, nil, time.Now())
	j.Finalize(time.Now(), nil)
	require.NoError(t, l.Upsert(ctx, "p1", j))

	// identical record is accepted
	require.NoError(t, l.Upsert(ctx, "p1", j.Clone()))

	reopened := j.Clone()
	reopened.Status = model.JobStatusRunning
	err := l.Upsert(ctx, "p1", reopened)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	got, err := l.Get(ctx, "p1", j.ID())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	j := model.NewJob("Export Prediction", 0.25, nil, time.Now())
	require.NoError(t, l.Upsert(ctx, "p1", j))

	updated, err := l.Update(ctx, "p1", j.ID(), func(job *model.Job) { job.Advance(0.5, "predicted") })
	require.NoError(t, err)
	assert.InDelta(t, 0.5, float64(updated.Progress), 1e-9)

	_, err = l.Update(ctx, "p1", j.ID(), func(job *model.Job) { job.Finalize(time.Now(), nil) })
	require.NoError(t, err)

	_, err = l.Update(ctx, "p1", j.ID(), func(job *model.Job) {})
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	_, err = l.Update(ctx, "p1", "missing", func(job *model.Job) {})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRefreshCancelsMissingAutoMLJob(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	require.NoError(t, l.Upsert(ctx, "p1", j))

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.JobStatusCancelled, got[0].Status)
	assert.Equal(t, model.Float(1), got[0].Progress)

	// written back
	stored, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, stored[0].Status)
}

func TestRefreshKeepsMissingNonAutoMLJob(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	ctx := t.Context()

	j := model.NewJob("Parse Frame", 0.2, nil, time.Now())
	require.NoError(t, l.Upsert(ctx, "p1", j))

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got[0].Status)
}

func TestRefreshAdoptsRemoteStatus(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	compute.AddJob(j)
	require.NoError(t, l.Upsert(ctx, "p1", j))
	compute.SetJobStatus(j.ID(), model.JobStatusDone)

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got[0].Status)
}

func TestRefreshCompletesTerminalRemoteJob(t *testing.T) {
	t.Parallel()
	start := time.UnixMilli(1_700_000_000_000)
	l, compute := newTestLedger(t, WithClock(func() time.Time { return start.Add(3 * time.Second) }))
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	j.StartTime = start.UnixMilli()
	require.NoError(t, l.Upsert(ctx, "p1", j))

	remote := j.Clone()
	remote.Status = model.JobStatusFailed
	remote.Progress = 0.4
	remote.Exception = "out of memory"
	compute.AddJob(remote)

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.JobStatusFailed, got[0].Status)
	assert.Equal(t, model.Float(1), got[0].Progress)
	assert.Equal(t, int64(3000), got[0].Msec)
	assert.Equal(t, "out of memory", got[0].Exception)

	stored, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	assert.Equal(t, model.Float(1), stored[0].Progress)
	assert.Equal(t, int64(3000), stored[0].Msec)
}

func TestRefreshKeepsRemoteElapsedTime(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	require.NoError(t, l.Upsert(ctx, "p1", j))

	remote := j.Clone()
	remote.Status = model.JobStatusCancelled
	remote.Progress = 0.1
	remote.Msec = 1234
	compute.AddJob(remote)

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got[0].Status)
	assert.Equal(t, model.Float(1), got[0].Progress)
	assert.Equal(t, int64(1234), got[0].Msec)
}

func TestRefreshFallsBackOnRemoteFailure(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	require.NoError(t, l.Upsert(ctx, "p1", j))
	compute.FailOn("GetJob", apperrors.RemoteAccess("compute.GetJob", 500, "boom", nil))

	got, err := l.List(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got[0].Status)
}

func TestDeleteCancelsRunningRemoteJob(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	compute.AddJob(j)
	require.NoError(t, l.Upsert(ctx, "p1", j))

	require.NoError(t, l.Delete(ctx, "p1", j.ID()))
	l.Wait()

	remote, ok := compute.Job(j.ID())
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, remote.Status)

	got, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteIgnoresCancelFailure(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	j := automlJob(model.JobStatusRunning, "churn@@label")
	compute.AddJob(j)
	compute.FailOn("CancelJob", apperrors.RemoteAccess("compute.CancelJob", 500, "busy", nil))
	require.NoError(t, l.Upsert(ctx, "p1", j))

	require.NoError(t, l.Delete(ctx, "p1", j.ID()))
	l.Wait()
	assert.Equal(t, 1, compute.Calls("CancelJob"))
}

func TestDeleteMissingJob(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)

	err := l.Delete(t.Context(), "p1", "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeleteAllJobs(t *testing.T) {
	t.Parallel()
	l, compute := newTestLedger(t)
	ctx := t.Context()

	done := automlJob(model.JobStatusDone, "lb1")
	cancelled := automlJob(model.JobStatusCancelled, "lb2")
	running := automlJob(model.JobStatusRunning, "lb3")
	parse := model.NewJob("Parse Frame", 0.2, nil, time.Now())
	parse.Finalize(time.Now(), nil)
	require.NoError(t, l.Persist(ctx, "p1", []*model.Job{done, parse, cancelled, running}))

	for _, id := range []string{"GBM_1", "GLM_1", "DRF_1"} {
		compute.AddModel(&model.Model{ModelID: model.Key{Name: id}})
	}
	compute.AddLeaderboard("lb1", &model.Leaderboard{Models: []model.Key{{Name: "GBM_1"}, {Name: "GLM_1"}}})
	compute.AddLeaderboard("lb2", &model.Leaderboard{Models: []model.Key{{Name: "XGB_gone"}}})

	cleanup, err := l.DeleteAllJobs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cleanup.Removed, 2)

	got, err := l.List(ctx, "p1", false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, parse.ID(), got[0].ID())
	assert.Equal(t, running.ID(), got[1].ID())

	select {
	case <-cleanup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("model cleanup did not finish")
	}
	assert.False(t, compute.HasModel("GBM_1"))
	assert.False(t, compute.HasModel("GLM_1"))
	assert.True(t, compute.HasModel("DRF_1"))
	assert.Equal(t, []string{"XGB_gone"}, cleanup.Failed())
}

func TestObserverNotifiedAfterWrites(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	l, _ := newTestLedger(t, WithObserver(obs))
	ctx := t.Context()

	j := model.NewJob("Parse Schema", 0.2, nil, time.Now())
	require.NoError(t, l.Upsert(ctx, "p1", j))
	require.NoError(t, l.Delete(ctx, "p1", j.ID()))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{j.ID()}, obs.changed)
	assert.Equal(t, []string{j.ID()}, obs.deleted)
}

func TestProjectsDoNotShareLocks(t *testing.T) {
	t.Parallel()
	locks := newProjectLocks()

	a := locks.get("p1")
	a.Lock()
	defer a.Unlock()

	acquired := make(chan struct{})
	go func() {
		b := locks.get("p2")
		b.Lock()
		b.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock of p2 blocked on p1")
	}
	assert.Same(t, a, locks.get("p1"))
}

// Package ledger keeps the ordered list of jobs of each project in a single
// object and serializes every read-modify-write of it.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/observability"
	"github.com/automlhub/api/internal/store"
)

// backgroundTimeout bounds cancel requests and model cleanup started by the ledger.
const backgroundTimeout = 5 * time.Minute

// JobObserver is told about every job written to or removed from a ledger.
type JobObserver interface {
	JobChanged(projectID string, job *model.Job)
	JobDeleted(projectID, jobID string)
}

// Ledger is the job collection of every project.
type Ledger struct {
	records   *store.RecordStore
	compute   client.ComputeService
	locks     *projectLocks
	observers []JobObserver
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver registers an observer.
func WithObserver(o JobObserver) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithMetrics records ledger writes.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over records, reconciling against compute.
func New(records *store.RecordStore, compute client.ComputeService, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		records: records,
		compute: compute,
		locks:   newProjectLocks(),
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until every background task started by the ledger has finished.
func (l *Ledger) Wait() {
	l.background.Wait()
}

// List returns the jobs of a project. With refresh, every RUNNING job is
// reconciled against the compute service and the result written back before
// it is returned. Without refresh no lock is taken.
func (l *Ledger) List(ctx context.Context, projectID string, refresh bool) ([]*model.Job, error) {
	if !refresh {
		return l.records.Jobs(ctx, projectID)
	}

	lock := l.locks.get(projectID)
	lock.Lock()
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var changed []*model.Job
	cancelled := 0
	for i, job := range jobs {
		if job.Status != model.JobStatusRunning {
			continue
		}
		updated, wasCancelled := l.reconcile(ctx, job)
		if updated == nil {
			continue
		}
		jobs[i] = updated
		changed = append(changed, updated)
		if wasCancelled {
			cancelled++
		}
	}

	if len(changed) > 0 {
		if err := l.write(ctx, projectID, jobs); err != nil {
			lock.Unlock()
			return nil, err
		}
		l.metrics.RecordLedgerCancelled(ctx, cancelled)
	}
	lock.Unlock()

	for _, job := range changed {
		l.notifyChanged(projectID, job)
	}
	return jobs, nil
}

// reconcile returns the replacement for a running job, or nil to keep it.
func (l *Ledger) reconcile(ctx context.Context, job *model.Job) (*model.Job, bool) {
	remote, err := l.compute.GetJob(ctx, job.ID())
	switch {
	case err != nil && apperrors.IsRemoteNotFound(err):
		// Finished AutoML builds are garbage-collected remotely; missing means done.
		if job.Kind() == model.JobKindAutoML && job.ReadyForView {
			c := job.Clone()
			c.Cancel(l.now())
			return c, true
		}
		return nil, false
	case err != nil:
		l.logger.Warn("job refresh failed, keeping local copy", "job", job.ID(), "error", err)
		return nil, false
	case remote == nil:
		return nil, false
	}

	adopted := remote.Clone()
	if adopted.Status.Terminal() {
		// The compute service reports failed and cancelled jobs at partial progress.
		adopted.Progress = 1.0
		if adopted.Msec == 0 {
			start := adopted.StartTime
			if start == 0 {
				start = job.StartTime
			}
			adopted.Msec = l.now().UnixMilli() - start
		}
	}
	if adopted.Equal(job) {
		return nil, false
	}
	return adopted, false
}

// Get returns one job without taking the lock.
func (l *Ledger) Get(ctx context.Context, projectID, jobID string) (*model.Job, error) {
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.ID() == jobID {
			return j, nil
		}
	}
	return nil, apperrors.NotFound("job", jobID)
}

// Upsert replaces the job with the same key or appends it. A terminal job can
// only be rewritten with identical content.
func (l *Ledger) Upsert(ctx context.Context, projectID string, job *model.Job) error {
	lock := l.locks.get(projectID)
	lock.Lock()
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		lock.Unlock()
		return err
	}

	idx := indexOf(jobs, job.ID())
	if idx >= 0 {
		existing := jobs[idx]
		if existing.Equal(job) {
			lock.Unlock()
			return nil
		}
		if existing.Status.Terminal() {
			lock.Unlock()
			return apperrors.Conflict("job", job.ID(), "job is "+string(existing.Status))
		}
		jobs[idx] = job.Clone()
	} else {
		jobs = append(jobs, job.Clone())
	}

	if err := l.write(ctx, projectID, jobs); err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	l.notifyChanged(projectID, job)
	return nil
}

// Update applies mutate to the stored job under the lock and returns the result.
// A missing job is NotFound and a terminal one is a Conflict.
func (l *Ledger) Update(ctx context.Context, projectID, jobID string, mutate func(*model.Job)) (*model.Job, error) {
	lock := l.locks.get(projectID)
	lock.Lock()
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	idx := indexOf(jobs, jobID)
	if idx < 0 {
		lock.Unlock()
		return nil, apperrors.NotFound("job", jobID)
	}
	if jobs[idx].Status.Terminal() {
		lock.Unlock()
		return nil, apperrors.Conflict("job", jobID, "job is "+string(jobs[idx].Status))
	}

	updated := jobs[idx].Clone()
	mutate(updated)
	jobs[idx] = updated

	if err := l.write(ctx, projectID, jobs); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	l.notifyChanged(projectID, updated)
	return updated.Clone(), nil
}

// Delete removes a job. If the compute service still runs it, a cancel is
// requested in the background; failing to cancel is only logged.
func (l *Ledger) Delete(ctx context.Context, projectID, jobID string) error {
	lock := l.locks.get(projectID)
	lock.Lock()
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		lock.Unlock()
		return err
	}

	idx := indexOf(jobs, jobID)
	if idx < 0 {
		lock.Unlock()
		return apperrors.NotFound("job", jobID)
	}
	jobs = append(jobs[:idx], jobs[idx+1:]...)

	if err := l.write(ctx, projectID, jobs); err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	l.notifyDeleted(projectID, jobID)
	l.goBackground(ctx, func(ctx context.Context) {
		l.cancelIfRunning(ctx, projectID, jobID)
	})
	return nil
}

func (l *Ledger) cancelIfRunning(ctx context.Context, projectID, jobID string) {
	remote, err := l.compute.GetJob(ctx, jobID)
	if err != nil {
		if !apperrors.IsRemoteNotFound(err) {
			l.logger.Warn("failed to look up deleted job", "project", projectID, "job", jobID, "error", err)
		}
		return
	}
	if remote.Status != model.JobStatusRunning {
		return
	}
	if err := l.compute.CancelJob(ctx, jobID); err != nil {
		l.logger.Warn("failed to cancel deleted job", "project", projectID, "job", jobID, "error", err)
		return
	}
	l.logger.Info("cancelled deleted job", "project", projectID, "job", jobID)
}

// Cleanup reports the outcome of DeleteAllJobs. Removed is known immediately;
// the model deletions finish in the background.
type Cleanup struct {
	Removed []*model.Job

	done   chan struct{}
	mu     sync.Mutex
	failed []string
}

// Done is closed when the background model deletion has finished.
func (c *Cleanup) Done() <-chan struct{} {
	return c.done
}

// Failed returns the ids of models that could not be deleted.
func (c *Cleanup) Failed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.failed...)
}

func (c *Cleanup) fail(modelID string) {
	c.mu.Lock()
	c.failed = append(c.failed, modelID)
	c.mu.Unlock()
}

// DeleteAllJobs removes every terminal AutoML job in one write, then deletes
// the models on each removed job's leaderboard in the background.
func (l *Ledger) DeleteAllJobs(ctx context.Context, projectID string) (*Cleanup, error) {
	lock := l.locks.get(projectID)
	lock.Lock()
	jobs, err := l.records.Jobs(ctx, projectID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	kept := make([]*model.Job, 0, len(jobs))
	cleanup := &Cleanup{done: make(chan struct{})}
	for _, j := range jobs {
		if j.Kind() == model.JobKindAutoML && j.Status.Terminal() {
			cleanup.Removed = append(cleanup.Removed, j)
			continue
		}
		kept = append(kept, j)
	}

	if len(cleanup.Removed) > 0 {
		if err := l.write(ctx, projectID, kept); err != nil {
			lock.Unlock()
			return nil, err
		}
	}
	lock.Unlock()

	for _, j := range cleanup.Removed {
		l.notifyDeleted(projectID, j.ID())
	}

	l.goBackground(ctx, func(ctx context.Context) {
		defer close(cleanup.done)
		for _, j := range cleanup.Removed {
			l.deleteLeaderboardModels(ctx, projectID, j, cleanup)
		}
	})
	return cleanup, nil
}

func (l *Ledger) deleteLeaderboardModels(ctx context.Context, projectID string, job *model.Job, cleanup *Cleanup) {
	if job.Dest == nil || job.Dest.Name == "" {
		return
	}
	lb, err := l.compute.GetLeaderboard(ctx, job.Dest.Name)
	if err != nil {
		l.logger.Warn("failed to resolve leaderboard", "project", projectID, "leaderboard", job.Dest.Name, "error", err)
		return
	}
	for _, modelID := range lb.ModelIDs() {
		if err := l.compute.DeleteModel(ctx, modelID); err != nil {
			l.logger.Warn("failed to delete model", "project", projectID, "model", modelID, "error", err)
			cleanup.fail(modelID)
			continue
		}
		l.logger.Debug("deleted model", "project", projectID, "model", modelID)
	}
}

// Persist overwrites the ledger with jobs in one write.
func (l *Ledger) Persist(ctx context.Context, projectID string, jobs []*model.Job) error {
	lock := l.locks.get(projectID)
	lock.Lock()
	err := l.write(ctx, projectID, jobs)
	lock.Unlock()
	if err != nil {
		return err
	}
	for _, j := range jobs {
		l.notifyChanged(projectID, j)
	}
	return nil
}

func (l *Ledger) write(ctx context.Context, projectID string, jobs []*model.Job) error {
	if err := l.records.PutJobs(ctx, projectID, jobs); err != nil {
		return err
	}
	l.metrics.RecordLedgerWrite(ctx)
	return nil
}

// goBackground runs fn detached from the caller's cancellation but tracked by Wait.
func (l *Ledger) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	l.background.Add(1)
	go func() {
		defer l.background.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(bctx)
	}()
}

func (l *Ledger) notifyChanged(projectID string, job *model.Job) {
	for _, o := range l.observers {
		o.JobChanged(projectID, job.Clone())
	}
}

func (l *Ledger) notifyDeleted(projectID, jobID string) {
	for _, o := range l.observers {
		o.JobDeleted(projectID, jobID)
	}
}

func indexOf(jobs []*model.Job, jobID string) int {
	for i, j := range jobs {
		if j.ID() == jobID {
			return i
		}
	}
	return -1
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/model"
)

// Step is one remote call of a workflow. Progress is recorded on the job once
// Run succeeds; zero leaves it unchanged.
type Step struct {
	Name     string
	Progress float64
	Run      func(ctx context.Context, r *Run) error
}

// Run is the state of one workflow execution bound to its placeholder job.
type Run struct {
	ProjectID string
	JobID     string

	kind         string
	started      time.Time
	o            *Orchestrator
	cleanups     []func(ctx context.Context)
	replaced     bool
	removeOnDone bool
}

// Advance records progress on the placeholder job. A placeholder removed by
// the caller is not an error for the workflow.
func (r *Run) Advance(ctx context.Context, progress float64, msg string) {
	_, err := r.o.ledger.Update(ctx, r.ProjectID, r.JobID, func(j *model.Job) {
		j.Advance(progress, msg)
	})
	if err != nil {
		r.o.logger.Debug("progress not recorded", "project", r.ProjectID, "job", r.JobID, "error", err)
	}
}

// OnExit registers fn to run after the job is finalized, whatever the outcome.
// Functions run in reverse registration order.
func (r *Run) OnExit(fn func(ctx context.Context)) {
	r.cleanups = append(r.cleanups, fn)
}

// Replace swaps the placeholder for the job issued by the compute service.
// The job key changes across this call. The remote job is recorded before the
// placeholder goes, so a failed write leaves the placeholder to be finalized.
func (r *Run) Replace(ctx context.Context, remote *model.Job) error {
	if remote == nil {
		return apperrors.RemoteAccess("replace placeholder", 0, "", errors.New("compute service returned no job"))
	}
	if err := r.o.ledger.Upsert(ctx, r.ProjectID, remote); err != nil {
		return err
	}
	if err := r.o.ledger.Delete(ctx, r.ProjectID, r.JobID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	r.replaced = true
	return nil
}

// RemoveWhenDone deletes the placeholder after it has been finalized DONE.
func (r *Run) RemoveWhenDone() {
	r.removeOnDone = true
}

// execute runs steps in order, stopping at the first failure.
func (o *Orchestrator) execute(ctx context.Context, r *Run, steps []Step) {
	var err error
	for _, s := range steps {
		if err = s.Run(ctx, r); err != nil {
			err = apperrors.WithStack(fmt.Errorf("%s: %w", s.Name, err))
			break
		}
		if s.Progress > 0 {
			r.Advance(ctx, s.Progress, s.Name)
		}
	}
	o.finish(ctx, r, err)
}

// finish finalizes the placeholder, then runs the exit functions.
func (o *Orchestrator) finish(ctx context.Context, r *Run, err error) {
	// A replaced placeholder is gone; the remote job reports from here on.
	if !r.replaced || err != nil {
		o.finalize(ctx, r, err)
	}

	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i](ctx)
	}

	elapsed := o.now().Sub(r.started)
	o.metrics.RecordWorkflowCompleted(ctx, r.kind, err == nil, elapsed.Seconds())
	if err != nil {
		o.logger.Warn("workflow failed", "type", r.kind, "project", r.ProjectID, "job", r.JobID, "error", err)
		return
	}
	o.logger.Info("workflow completed", "type", r.kind, "project", r.ProjectID, "job", r.JobID, "elapsed", elapsed)
}

func (o *Orchestrator) finalize(ctx context.Context, r *Run, err error) {
	_, uerr := o.ledger.Update(ctx, r.ProjectID, r.JobID, func(j *model.Job) {
		j.Finalize(o.now(), err)
	})
	if uerr != nil {
		o.logger.Debug("job not finalized", "project", r.ProjectID, "job", r.JobID, "error", uerr)
		return
	}
	if err == nil && r.removeOnDone {
		if derr := o.ledger.Delete(ctx, r.ProjectID, r.JobID); derr != nil {
			o.logger.Warn("failed to remove finished job", "project", r.ProjectID, "job", r.JobID, "error", derr)
		}
	}
}

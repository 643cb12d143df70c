// Package workflow drives the multi-step compute service workflows. Each
// workflow reports through a placeholder job in the project's ledger and runs
// on a dispatched task, never on the caller's goroutine.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/observability"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/worker"
)

// Progress each placeholder starts at.
const (
	seedSchema      = 0.2
	seedFrame       = 0.2
	seedAutoML      = 0.2
	seedPredict     = 0.25
	seedExportModel = 0.5
	seedExportAll   = 0.0
)

// Orchestrator starts workflows and executes their tasks.
type Orchestrator struct {
	ledger     *ledger.Ledger
	records    *store.RecordStore
	compute    client.ComputeService
	catalog    *catalog.Catalog
	dispatcher worker.Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Ledger     *ledger.Ledger
	Records    *store.RecordStore
	Compute    client.ComputeService
	Catalog    *catalog.Catalog
	Dispatcher worker.Dispatcher
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		ledger:     d.Ledger,
		records:    d.Records,
		compute:    d.Compute,
		catalog:    d.Catalog,
		dispatcher: d.Dispatcher,
		metrics:    d.Metrics,
		logger:     logging.OrDefault(d.Logger),
		now:        time.Now,
	}
}

// Handlers returns the task handler of every workflow, keyed by task type.
func (o *Orchestrator) Handlers() map[string]worker.Handler {
	return map[string]worker.Handler{
		worker.TaskTypeSchema:       o.handler(o.planSchema),
		worker.TaskTypeFrame:        o.handler(o.planFrame),
		worker.TaskTypeAutoML:       o.handler(o.planAutoML),
		worker.TaskTypePredict:      o.handler(o.planPredict),
		worker.TaskTypeExportModel:  o.handler(o.planExportModel),
		worker.TaskTypeExportModels: o.handler(o.planExportModels),
	}
}

// planFunc turns a task into the steps to execute.
type planFunc func(ctx context.Context, task *worker.Task, r *Run) ([]Step, error)

func (o *Orchestrator) handler(plan planFunc) worker.Handler {
	return func(ctx context.Context, task *worker.Task) error {
		r := &Run{
			ProjectID: task.ProjectID,
			JobID:     task.JobID,
			kind:      task.Type,
			started:   o.now(),
			o:         o,
		}
		o.logger.Debug("workflow started", "type", task.Type, "project", task.ProjectID, "job", task.JobID)

		steps, err := plan(ctx, task, r)
		if err != nil {
			o.finish(ctx, r, apperrors.WithStack(err))
			return err
		}
		o.execute(ctx, r, steps)
		return nil
	}
}

// start persists a RUNNING placeholder and dispatches its task. The caller
// gets the placeholder back at once.
func (o *Orchestrator) start(ctx context.Context, projectID, taskType, description string, seed float64, target string, payload any) (*model.Job, error) {
	job := model.NewJob(description, seed, &model.Key{Name: target}, o.now())
	if err := o.ledger.Upsert(ctx, projectID, job); err != nil {
		return nil, err
	}

	task, err := worker.NewTask(taskType, projectID, job.ID(), payload)
	if err == nil {
		err = o.dispatcher.Dispatch(ctx, task)
	}
	if err != nil {
		failed, uerr := o.ledger.Update(ctx, projectID, job.ID(), func(j *model.Job) {
			j.Finalize(o.now(), apperrors.WithStack(err))
		})
		if uerr != nil {
			o.logger.Warn("failed to finalize undispatched job", "project", projectID, "job", job.ID(), "error", uerr)
		} else {
			job = failed
		}
		return job, apperrors.Internal("dispatch "+taskType, err)
	}

	o.metrics.RecordWorkflowStarted(ctx, taskType)
	o.logger.Info("workflow dispatched", "type", taskType, "project", projectID, "job", job.ID(), "target", target)
	return job, nil
}

// deleteFrameQuietly is a best-effort remote frame deletion.
func (o *Orchestrator) deleteFrameQuietly(ctx context.Context, frameID string) {
	if frameID == "" {
		return
	}
	if err := o.compute.DeleteFrame(ctx, frameID); err != nil {
		o.logger.Warn("failed to delete frame", "frame", frameID, "error", err)
		return
	}
	o.logger.Debug("deleted frame", "frame", frameID)
}

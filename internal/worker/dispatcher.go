// Package worker runs workflow tasks in the background, either on local
// goroutines or through an asynq queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/automlhub/api/internal/logging"
)

const (
	TaskTypeSchema       = "workflow:schema"
	TaskTypeFrame        = "workflow:frame"
	TaskTypeAutoML       = "workflow:automl"
	TaskTypePredict      = "workflow:predict"
	TaskTypeExportModel  = "workflow:export_model"
	TaskTypeExportModels = "workflow:export_models"
)

// QueueWorkflows is the asynq queue every workflow task is enqueued on.
const QueueWorkflows = "workflows"

// Task is one workflow invocation bound to the placeholder job it reports to.
type Task struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId"`
	JobID     string          `json:"jobId"`
	Payload   json.RawMessage `json:"payload"`
}

// NewTask marshals payload into a task.
func NewTask(taskType, projectID, jobID string, payload any) (*Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return &Task{Type: taskType, ProjectID: projectID, JobID: jobID, Payload: b}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", t.Type, err)
	}
	return nil
}

// Handler executes a task. Workflow failures are reported on the job, so a
// returned error means the task itself could not be run.
type Handler func(ctx context.Context, task *Task) error

// Dispatcher hands a task to whatever executes it and returns immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *Task) error
}

// LocalDispatcher runs tasks on tracked goroutines in this process.
type LocalDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewLocalDispatcher creates a dispatcher with no handlers.
func NewLocalDispatcher(logger *slog.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		handlers: make(map[string]Handler),
		logger:   logging.OrDefault(logger),
	}
}

// Handle registers the handlers for their task types.
func (d *LocalDispatcher) Handle(handlers map[string]Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for t, h := range handlers {
		d.handlers[t] = h
	}
}

// Dispatch starts the task in the background. The task outlives ctx.
func (d *LocalDispatcher) Dispatch(ctx context.Context, task *Task) error {
	d.mu.RLock()
	h, ok := d.handlers[task.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for task type %q", task.Type)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := h(context.WithoutCancel(ctx), task); err != nil {
			d.logger.Error("task failed", "type", task.Type, "project", task.ProjectID, "job", task.JobID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/logging"
)

// AsynqDispatcher enqueues tasks on the workflows queue.
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher creates a dispatcher over an asynq client.
func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// Dispatch enqueues the task. Workflows finalize their own job, so a task is
// never retried.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, task *Task) error {
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(task.Type, b),
		asynq.Queue(QueueWorkflows),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// NewServeMux binds every task type to its handler for an asynq server.
func NewServeMux(handlers map[string]Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, h := range handlers {
		mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
			var task Task
			if err := json.Unmarshal(t.Payload(), &task); err != nil {
				return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
			}
			task.Type = t.Type()
			return h(ctx, &task)
		})
	}
	return mux
}

// RedisOpt converts the redis section into asynq connection options.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewServer creates an asynq server that consumes the workflows queue.
func NewServer(cfg *config.Config, logger *slog.Logger) *asynq.Server {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(RedisOpt(&cfg.Redis), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueWorkflows: 1},
		LogLevel:    asynqLogLevel(cfg.Server.LogLevel),
		Logger:      &slogAdapter{logger: logging.OrDefault(logger).With("component", "asynq")},
	})
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// slogAdapter routes asynq's logger through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a *slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

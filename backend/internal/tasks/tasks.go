// Package tasks runs the forum's scheduled background tasks on asynq.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/elkarte/forum/backend/internal/service"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/logger"
	"github.com/hibiken/asynq"
)

const taskTimeout = 10 * time.Minute

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler queues tasks to run as soon as a worker is free. Requests
// arriving while a run is pending collapse into it; requests arriving while
// it is active leave one follow-up run behind so later changes are seen.
type Scheduler struct {
	client Enqueuer
	queue  string
}

// uniqueTTL bounds how long a uniqueness lock can outlive a run that
// never reported back, e.g. one that ended up archived.
const uniqueTTL = taskTimeout + time.Minute

var followUpPayload = []byte("follow-up")

func NewScheduler(client Enqueuer, queue string) *Scheduler {
	return &Scheduler{client: client, queue: queue}
}

func RedisOpt(cfg config.Redis) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

func (s *Scheduler) ScheduleImmediate(ctx context.Context, task string) error {
	queued, err := s.enqueue(ctx, asynq.NewTask(task, nil))
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	// the pending run may already be past the change that triggered us
	_, err = s.enqueue(ctx, asynq.NewTask(task, followUpPayload), asynq.ProcessIn(time.Second))
	return err
}

// enqueue reports false when an equal task already holds the lock.
func (s *Scheduler) enqueue(ctx context.Context, task *asynq.Task, extra ...asynq.Option) (bool, error) {
	opts := append([]asynq.Option{
		asynq.Queue(s.queue),
		asynq.Unique(uniqueTTL),
		asynq.MaxRetry(3),
		asynq.Timeout(taskTimeout),
	}, extra...)
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Log.Debug("task already scheduled", "task", task.Type(), "follow_up", len(task.Payload()) > 0)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	logger.Log.Info("task scheduled", "task", task.Type(), "queue", info.Queue, "follow_up", len(task.Payload()) > 0)
	return true, nil
}

type MentionRechecker interface {
	RecheckUserAccess(ctx context.Context) error
}

// NewServeMux routes every task type to its handler.
func NewServeMux(mentions MentionRechecker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskUserAccessMentions, userAccessMentionsHandler(mentions))
	return mux
}

func userAccessMentionsHandler(mentions MentionRechecker) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		start := time.Now()
		if err := mentions.RecheckUserAccess(ctx); err != nil {
			logger.Log.Error("mention access re-check failed", "error", err)
			return err
		}
		logger.Log.Info("mention access re-check done", "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}

// NewServer builds the worker server consuming queue.
func NewServer(opt asynq.RedisConnOpt, queue string, concurrency int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      asynqLogger{},
	})
}

// asynqLogger sends asynq's own logs through the forum logger.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { logger.Log.Debug(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Info(args ...any)  { logger.Log.Info(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Warn(args ...any)  { logger.Log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Error(args ...any) { logger.Log.Error(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Fatal(args ...any) {
	logger.Log.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}

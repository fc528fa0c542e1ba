package cron

import (
	"context"
	"fmt"
	"time"

	"tablebook/services/conversation"
	"tablebook/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Sweeper is the work a sweep task runs.
type Sweeper interface {
	SweepOnce(ctx context.Context) (conversation.SweepStats, error)
}

// RedisOptions locate the asynq queue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func (o RedisOptions) asynq() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// InitSweepWorker runs the asynq worker and the periodic scheduler until ctx is done.
func InitSweepWorker(ctx context.Context, opts RedisOptions, sweeper Sweeper, interval time.Duration, logger *zap.Logger) error {
	srv := asynq.NewServer(
		opts.asynq(),
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeConversationSweep, handleSweepTask(sweeper, logger))

	scheduler := asynq.NewScheduler(opts.asynq(), &asynq.SchedulerOpts{})
	task, taskOpts, err := tasks.NewSweepTask(time.Now(), interval)
	if err != nil {
		return fmt.Errorf("build sweep task: %w", err)
	}
	entryID, err := scheduler.Register(fmt.Sprintf("@every %s", interval), task, taskOpts...)
	if err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	logger.Info("sweep scheduled", zap.String("entryID", entryID), zap.Duration("interval", interval))

	go monitorRedisConnection(ctx, opts, logger)

	if err := startWithRetry(ctx, "worker", func() error { return srv.Start(mux) }, logger); err != nil {
		return err
	}
	if err := startWithRetry(ctx, "scheduler", scheduler.Start, logger); err != nil {
		srv.Shutdown()
		return err
	}

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("sweep worker stopped")
	return nil
}

func startWithRetry(ctx context.Context, name string, start func() error, logger *zap.Logger) error {
	const maxAttempts = 5
	var err error
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = start(); err == nil {
			return nil
		}
		logger.Warn("sweep "+name+" failed to start", zap.Int("attempt", attempts), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempts*2) * time.Second):
		}
	}
	return fmt.Errorf("start sweep %s: %w", name, err)
}

func handleSweepTask(sweeper Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseSweepPayload(task)
		if err != nil {
			logger.Error("invalid sweep payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		stats, err := sweeper.SweepOnce(ctx)
		if err != nil {
			logger.Error("sweep task failed", zap.Time("scheduledAt", p.ScheduledAt), zap.Error(err))
			return err
		}
		logger.Debug("sweep task done", zap.Int("timedOut", stats.TimedOut), zap.Int("scanned", stats.Scanned))
		return nil
	}
}

// monitorRedisConnection pings the queue's Redis periodically to surface failures at runtime.
func monitorRedisConnection(ctx context.Context, opts RedisOptions, logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	defer client.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(ctx).Err(); err != nil && ctx.Err() == nil {
				logger.Warn("sweep queue redis unreachable", zap.Error(err))
			}
		}
	}
}

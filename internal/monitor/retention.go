package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wwwzy/PennyAgent/internal/storage"
)

// SessionPruner 删除空闲会话；session.Manager 实现了它。
type SessionPruner interface {
	PruneIdle(ctx context.Context, before time.Time) (int, error)
}

// RetentionCollector 周期性清理过期的审计记录、对话转写与空闲会话。
// store 与 sessions 均可为 nil（对应的任务跳过），但不能同时为 nil。
type RetentionCollector struct {
	cfg RetentionConfig

	store    *storage.Storage
	sessions SessionPruner
}

func NewRetentionCollector(store *storage.Storage, sessions SessionPruner) (*RetentionCollector, error) {
	if store == nil && sessions == nil {
		return nil, errors.New("storage or session pruner is required")
	}
	return &RetentionCollector{store: store, sessions: sessions}, nil
}

func (c *RetentionCollector) Run(ctx context.Context) error {
	if c == nil || (c.store == nil && c.sessions == nil) {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if err := c.runOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.runOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

func (c *RetentionCollector) tasks(now time.Time) []func(context.Context) error {
	var tasks []func(context.Context) error

	if c.store != nil {
		if c.cfg.AuditKeep > 0 {
			cut := now.Add(-c.cfg.AuditKeep)
			tasks = append(tasks, func(ctx context.Context) error {
				return c.deleteBatched(ctx, func(ctx context.Context) (int64, error) {
					return c.store.DeleteAuditRecordsBeforeLimited(ctx, cut, c.cfg.BatchRows)
				})
			})
		}
		if c.cfg.AuditKeepLatest > 0 {
			tasks = append(tasks, func(ctx context.Context) error {
				_, err := c.store.DeleteAuditRecordsKeepLatest(ctx, c.cfg.AuditKeepLatest)
				return err
			})
		}
		if c.cfg.TurnKeep > 0 {
			cut := now.Add(-c.cfg.TurnKeep)
			tasks = append(tasks, func(ctx context.Context) error {
				return c.deleteBatched(ctx, func(ctx context.Context) (int64, error) {
					return c.store.DeleteTurnRecordsBeforeLimited(ctx, cut, c.cfg.BatchRows)
				})
			})
		}
	}

	if c.sessions != nil && c.cfg.SessionIdle > 0 {
		cut := now.Add(-c.cfg.SessionIdle)
		tasks = append(tasks, func(ctx context.Context) error {
			_, err := c.sessions.PruneIdle(ctx, cut)
			return err
		})
	}
	return tasks
}

func (c *RetentionCollector) runOnce(ctx context.Context, now time.Time) error {
	if c == nil || (c.store == nil && c.sessions == nil) {
		return errors.New("retention collector not initialized")
	}

	tasks := c.tasks(now)
	if len(tasks) == 0 {
		return nil
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return err
		}
	}
	return nil
}

// deleteBatched 反复执行一批删除，直到没有可删的行
func (c *RetentionCollector) deleteBatched(ctx context.Context, deleteOnce func(context.Context) (int64, error)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := deleteOnce(ctx)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *RetentionCollector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Prune 忽略定时间隔，立即按保留策略清理一次审计记录与对话转写。
func Prune(ctx context.Context, store *storage.Storage, cfg RetentionConfig) error {
	c, err := NewRetentionCollector(store, nil)
	if err != nil {
		return err
	}
	c.cfg = cfg.withDefaults()
	return c.runOnce(ctx, time.Now().UTC())
}

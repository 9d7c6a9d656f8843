package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Job 为一个常驻的后台任务，Run 阻塞直到 ctx 取消或出错。
type Job interface {
	Run(ctx context.Context) error
}

type namedJob struct {
	name string
	job  Job
}

// Manager 管理后台维护任务的生命周期；任一任务出错会取消其余任务，Wait 返回第一个错误。
type Manager struct {
	cfg Config
	log zerolog.Logger

	retention *RetentionCollector
	jobs      []namedJob

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errOnce sync.Once
	runErr  error
}

func NewManager(cfg Config, log zerolog.Logger) (*Manager, error) {
	cfg.Retention = cfg.Retention.withDefaults()
	return &Manager{
		cfg: cfg,
		log: log.With().Str("component", "monitor").Logger(),
	}, nil
}

// WithRetention 挂载保留策略清理任务；未启用时忽略。
func (m *Manager) WithRetention(retention *RetentionCollector) *Manager {
	if m == nil {
		return nil
	}
	m.retention = retention
	if retention != nil {
		retention.cfg = m.cfg.Retention
	}
	return m
}

// WithJob 挂载任意后台任务。
func (m *Manager) WithJob(name string, job Job) *Manager {
	if m == nil || job == nil {
		return m
	}
	m.jobs = append(m.jobs, namedJob{name: name, job: job})
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	jobs := append([]namedJob(nil), m.jobs...)
	if m.cfg.Retention.Enabled {
		if m.retention == nil {
			return errors.New("retention collector is required when retention enabled")
		}
		jobs = append(jobs, namedJob{name: "retention", job: m.retention})
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, j := range jobs {
		m.wg.Add(1)
		go m.run(runCtx, j)
	}
	m.log.Info().Int("jobs", len(jobs)).Msg("background jobs started")
	return nil
}

func (m *Manager) run(ctx context.Context, j namedJob) {
	defer m.wg.Done()
	err := j.job.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	m.log.Error().Err(err).Str("job", j.name).Msg("background job failed")
	m.errOnce.Do(func() {
		m.runErr = fmt.Errorf("%s: %w", j.name, err)
	})
	m.cancel()
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	return m.runErr
}

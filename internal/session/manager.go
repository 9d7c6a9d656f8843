// Package session 把单个会话的 Controller 状态保存在可替换的存储中，
// 并保证同一会话同一时刻只有一个回合在执行。
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/agent"
	"github.com/wwwzy/PennyAgent/internal/metrics"
	"github.com/wwwzy/PennyAgent/internal/storage"
)

// Reply 为一个回合的结果。
type Reply struct {
	SessionID string      `json:"session_id"`
	TraceID   string      `json:"trace_id"`
	Message   string      `json:"message"`
	Stage     agent.Stage `json:"stage"`
}

// Manager 管理会话生命周期。
// archive 为 nil 时不归档发言。
type Manager struct {
	agent   *agent.Agent
	store   Store
	archive *storage.Storage
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(a *agent.Agent, store Store, archive *storage.Storage, log zerolog.Logger) *Manager {
	return &Manager{
		agent:   a,
		store:   store,
		archive: archive,
		log:     log.With().Str("component", "session").Logger(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock 获取会话级互斥锁，返回解锁函数
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) forget(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.locks, id)
	}
}

// Create 创建一个空会话并返回其 ID
func (m *Manager) Create(ctx context.Context) (string, error) {
	id := "sess-" + uuid.NewString()
	now := time.Now().UTC()
	rec := &Record{ID: id, CreatedAt: now, UpdatedAt: now}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	m.refreshGauge(ctx)
	m.log.Info().Str("session_id", id).Msg("session created")
	return id, nil
}

// Seed 把会话重置为初始状态（清空历史与开户进度）
func (m *Manager) Seed(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	rec.State = agent.State{}
	rec.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("seed session %s: %w", id, err)
	}
	m.log.Info().Str("session_id", id).Msg("session seeded")
	return nil
}

// Ask 记录一条用户发言并运行一个回合
func (m *Manager) Ask(ctx context.Context, id, text string) (Reply, error) {
	return m.turn(ctx, id, func(c *agent.Controller) { c.HumanStep(text) })
}

// Notify 记录一条系统通知（例如文件上传）并运行一个回合
func (m *Manager) Notify(ctx context.Context, id, text string) (Reply, error) {
	return m.turn(ctx, id, func(c *agent.Controller) { c.SystemStep(text) })
}

// UploadNotice 为文件上传后写入历史的系统通知
func UploadNotice(fileName string) string {
	return "uploaded file-name: " + strings.TrimSpace(fileName)
}

// turn 在会话锁内执行：加载 -> 记录输入 -> Step -> 保存。
// Step 失败时历史不变，调用方可以原样重试；但已成功的工具产生的进度仍会保存，
// 否则重试会重复调用有副作用的后端接口（例如再次开户）。
func (m *Manager) turn(ctx context.Context, id string, record func(*agent.Controller)) (Reply, error) {
	unlock := m.lock(id)
	defer unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	ctrl, err := m.agent.Restore(ctx, rec.State)
	if err != nil {
		return Reply{}, fmt.Errorf("restore session %s: %w", id, err)
	}

	traceID := uuid.NewString()
	ctx = agent.WithSessionID(agent.WithTraceID(ctx, traceID), id)

	before := len(rec.State.History)
	record(ctrl)
	msg, err := ctrl.Step(ctx)
	if err != nil {
		m.keepProgress(ctx, rec, ctrl.Progress())
		return Reply{}, err
	}

	rec.State = ctrl.Snapshot()
	rec.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return Reply{}, fmt.Errorf("save session %s: %w", id, err)
	}

	stage := ctrl.Stage()
	m.archiveTurn(ctx, id, traceID, rec.State.History[before:], stage)
	return Reply{SessionID: id, TraceID: traceID, Message: msg, Stage: stage}, nil
}

// keepProgress 在回合失败时只保存进度；进度未变化时不写存储。
func (m *Manager) keepProgress(ctx context.Context, rec *Record, progress agent.Progress) {
	if rec.State.Progress == progress {
		return
	}
	rec.State.Progress = progress
	rec.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("session_id", rec.ID).Msg("save progress after failed turn")
	}
}

// History 返回会话的完整对话历史
func (m *Manager) History(ctx context.Context, id string) ([]agent.Utterance, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.State.History, nil
}

// Get 返回会话记录
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.load(ctx, id)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	err := m.store.Delete(ctx, id)
	unlock()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	m.forget(id)
	m.refreshGauge(ctx)
	return nil
}

// PruneIdle 删除 before 之前没有活动的会话
func (m *Manager) PruneIdle(ctx context.Context, before time.Time) (int, error) {
	ids, err := m.store.DeleteIdle(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune idle sessions: %w", err)
	}
	m.forget(ids...)
	m.refreshGauge(ctx)
	return len(ids), nil
}

func (m *Manager) load(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// archiveTurn 把本回合新增的发言写入 turn_records；失败只打日志
func (m *Manager) archiveTurn(ctx context.Context, id, traceID string, entries []agent.Utterance, stage agent.Stage) {
	if m.archive == nil || len(entries) == 0 {
		return
	}
	now := time.Now().UTC()
	recs := make([]storage.TurnRecord, len(entries))
	for i, u := range entries {
		recs[i] = storage.TurnRecord{
			SessionID: id,
			TraceID:   traceID,
			Speaker:   u.Speaker,
			Text:      u.Text,
			Stage:     int(stage),
			CreatedAt: now,
		}
	}
	if err := m.archive.InsertTurnRecords(ctx, recs); err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("archive turn failed")
	}
}

func (m *Manager) refreshGauge(ctx context.Context) {
	n, err := m.store.Count(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Warn().Err(err).Msg("count sessions failed")
		}
		return
	}
	metrics.ActiveSessions.Set(float64(n))
}

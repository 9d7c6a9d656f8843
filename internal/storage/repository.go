package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// ErrRecordNotFound 表示按 id 更新时目标记录不存在。
var ErrRecordNotFound = errors.New("record not found")

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

type TurnQuery struct {
	// SessionID 为可选过滤条件，精确匹配。
	SessionID string
	// Speaker 为可选过滤条件（User/System/助手名）。
	Speaker string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按写入顺序倒序返回（优先返回最新发言）。
	Desc bool
}

func (s *Storage) InsertTurnRecord(ctx context.Context, rec *TurnRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("turn record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert turn record: %w", err)
	}
	return nil
}

func (s *Storage) InsertTurnRecords(ctx context.Context, recs []TurnRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range recs {
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(recs, 200).Error; err != nil {
		return fmt.Errorf("insert turn records: %w", err)
	}
	return nil
}

func (s *Storage) QueryTurnRecords(ctx context.Context, q TurnQuery) ([]TurnRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := whereEq(s.db.WithContext(ctx).Model(&TurnRecord{}), map[string]string{
		"session_id": q.SessionID,
		"speaker":    q.Speaker,
	})
	// 同一批写入的 CreatedAt 相同，按 id 保证发言顺序稳定。
	db = timeWindow(db, q.From, q.To, q.Desc).Limit(limit)

	var out []TurnRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query turn records: %w", err)
	}
	return out, nil
}

func (s *Storage) CountTurnRecords(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&TurnRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count turn records: %w", err)
	}
	return n, nil
}

// DeleteTurnRecordsBeforeLimited 删除 before 之前的一批转写记录，返回删除条数；调用方循环调用直到返回 0。
func (s *Storage) DeleteTurnRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	return deleteBeforeLimited[TurnRecord](ctx, s.db, "turn records", before, limit)
}

// AuditQuery 的字段均为可选过滤条件，零值不参与过滤；字符串字段都是精确匹配。
type AuditQuery struct {
	SessionID string
	TraceID   string
	// Action 为工具名，例如 IDVerification。
	Action string
	// Status 为 running/success/failed。
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
	Desc   bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := whereEq(s.db.WithContext(ctx).Model(&AuditRecord{}), map[string]string{
		"session_id": q.SessionID,
		"trace_id":   q.TraceID,
		"action":     q.Action,
		"status":     q.Status,
	})
	db = timeWindow(db, q.From, q.To, q.Desc).Limit(limit)

	var out []AuditRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

// AuditUpdate 描述工具执行结束后要回填的字段；nil 表示不修改。
type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (up AuditUpdate) columns() map[string]interface{} {
	cols := make(map[string]interface{}, 4)
	if up.Status != nil {
		cols["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		cols["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		cols["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		cols["finished_at"] = *up.FinishedAt
	}
	return cols
}

// UpdateAuditRecord 回填一条审计记录；记录不存在时返回包装了 ErrRecordNotFound 的错误。
func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	cols := up.columns()
	if len(cols) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("audit record %d: %w", id, ErrRecordNotFound)
	}
	return nil
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&AuditRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

func (s *Storage) DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	return deleteBeforeLimited[AuditRecord](ctx, s.db, "audit records", before, limit)
}

// DeleteAuditRecordsKeepLatest 只保留最新的 keep 条审计记录。
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	if keep < 0 {
		keep = 0
	}

	var keepIDs []uint64
	if keep > 0 {
		if err := s.db.WithContext(ctx).Model(&AuditRecord{}).
			Select("id").
			Order("id DESC").
			Limit(keep).
			Find(&keepIDs).Error; err != nil {
			return 0, fmt.Errorf("select latest audit ids: %w", err)
		}
	}

	db := s.db.WithContext(ctx)
	if len(keepIDs) > 0 {
		db = db.Where("id NOT IN ?", keepIDs)
	} else {
		db = db.Where("1 = 1")
	}
	res := db.Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// whereEq 为非空值追加等值过滤；按列名排序，生成的 SQL 稳定。
func whereEq(db *gorm.DB, filters map[string]string) *gorm.DB {
	cols := make([]string, 0, len(filters))
	for col, v := range filters {
		if v != "" {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	for _, col := range cols {
		db = db.Where(col+" = ?", filters[col])
	}
	return db
}

// timeWindow 过滤 CreatedAt 闭区间并按写入顺序排序。
func timeWindow(db *gorm.DB, from, to *time.Time, desc bool) *gorm.DB {
	if from != nil {
		db = db.Where("created_at >= ?", *from)
	}
	if to != nil {
		db = db.Where("created_at <= ?", *to)
	}
	if desc {
		return db.Order("created_at DESC").Order("id DESC")
	}
	return db.Order("created_at ASC").Order("id ASC")
}

// deleteBeforeLimited 先按 id 选出至多 limit 条过期记录再删除，单次事务的锁持有时间有上限。
func deleteBeforeLimited[T any](ctx context.Context, db *gorm.DB, what string, before time.Time, limit int) (int64, error) {
	var ids []uint64
	if err := db.WithContext(ctx).Model(new(T)).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(normalizeDeleteLimit(limit)).
		Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select %s ids: %w", what, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(new(T))
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s: %w", what, res.Error)
	}
	return res.RowsAffected, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

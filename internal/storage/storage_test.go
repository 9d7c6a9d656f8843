package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "pennyagent.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTurnRecordsRoundtrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Minute).UTC()
	recs := []TurnRecord{
		{SessionID: "sess-a", TraceID: "t1", Speaker: "User", Text: "Hi, I want to open an account", CreatedAt: base},
		{SessionID: "sess-a", TraceID: "t1", Speaker: "Penny", Text: "Sure! What is your email?", Stage: 2, CreatedAt: base.Add(time.Second)},
		{SessionID: "sess-b", TraceID: "t2", Speaker: "User", Text: "hello", CreatedAt: base.Add(2 * time.Second)},
	}
	if err := s.InsertTurnRecords(ctx, recs); err != nil {
		t.Fatalf("insert turns: %v", err)
	}

	got, err := s.QueryTurnRecords(ctx, TurnQuery{SessionID: "sess-a", Limit: 10})
	if err != nil {
		t.Fatalf("query turns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].Speaker != "User" || got[1].Speaker != "Penny" {
		t.Fatalf("unexpected speaker order: %s then %s", got[0].Speaker, got[1].Speaker)
	}
	if got[1].Stage != 2 {
		t.Fatalf("expected stage 2, got %d", got[1].Stage)
	}

	n, err := s.CountTurnRecords(ctx)
	if err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 turns, got %d", n)
	}
}

func TestTurnRecordsSameTimestampKeepOrder(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	// 同一批写入共享 CreatedAt，顺序由自增 id 决定。
	at := time.Now().UTC()
	recs := []TurnRecord{
		{SessionID: "sess", Speaker: "User", Text: "first", CreatedAt: at},
		{SessionID: "sess", Speaker: "System", Text: "second", CreatedAt: at},
		{SessionID: "sess", Speaker: "Penny", Text: "third", CreatedAt: at},
	}
	if err := s.InsertTurnRecords(ctx, recs); err != nil {
		t.Fatalf("insert turns: %v", err)
	}

	got, err := s.QueryTurnRecords(ctx, TurnQuery{SessionID: "sess", Desc: true})
	if err != nil {
		t.Fatalf("query turns: %v", err)
	}
	if len(got) != 3 || got[0].Text != "third" || got[2].Text != "first" {
		t.Fatalf("unexpected desc order: %+v", got)
	}
}

func TestRetentionPruneTurnsAndAudit(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	cut := now.Add(-7 * 24 * time.Hour)

	turns := []TurnRecord{
		{SessionID: "old", Speaker: "User", Text: "a", CreatedAt: now.Add(-9 * 24 * time.Hour)},
		{SessionID: "old", Speaker: "Penny", Text: "b", CreatedAt: now.Add(-8 * 24 * time.Hour)},
		{SessionID: "new", Speaker: "User", Text: "c", CreatedAt: now.Add(-1 * time.Hour)},
	}
	if err := s.InsertTurnRecords(ctx, turns); err != nil {
		t.Fatalf("insert turns: %v", err)
	}

	var deleted int64
	for {
		aff, err := s.DeleteTurnRecordsBeforeLimited(ctx, cut, 1)
		if err != nil {
			t.Fatalf("delete old turns: %v", err)
		}
		if aff == 0 {
			break
		}
		deleted += aff
	}
	if deleted != 2 {
		t.Fatalf("expected delete 2 old turns, got %d", deleted)
	}

	for i, at := range []time.Time{now.Add(-10 * 24 * time.Hour), now.Add(-time.Minute)} {
		rec := AuditRecord{SessionID: "s", Action: "EmailValidation", Status: "success", CreatedAt: at}
		if err := s.InsertAuditRecord(ctx, &rec); err != nil {
			t.Fatalf("insert audit %d: %v", i, err)
		}
	}
	aff, err := s.DeleteAuditRecordsBeforeLimited(ctx, cut, 10)
	if err != nil {
		t.Fatalf("delete old audit: %v", err)
	}
	if aff != 1 {
		t.Fatalf("expected delete 1 audit record, got %d", aff)
	}
	n, err := s.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining audit record, got %d", n)
	}
}

func TestAuditKeepLatest(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := AuditRecord{Action: "AskUser", Status: "success"}
		if err := s.InsertAuditRecord(ctx, &rec); err != nil {
			t.Fatalf("insert audit: %v", err)
		}
	}
	deleted, err := s.DeleteAuditRecordsKeepLatest(ctx, 2)
	if err != nil {
		t.Fatalf("keep latest: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected delete 3, got %d", deleted)
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := AuditRecord{
		SessionID:  "sess-1",
		TraceID:    "trace-1",
		Action:     "IDVerification",
		ParamsJSON: "doc1.png, Jane, Doe",
		Status:     "running",
		StartedAt:  time.Now().Add(-1 * time.Second).UTC(),
	}
	if err := s.InsertAuditRecord(ctx, &rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected audit id to be set")
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{SessionID: "sess-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got))
	}
	if got[0].Status != "running" {
		t.Fatalf("unexpected status: %s", got[0].Status)
	}

	status := "success"
	result := "Document has been verified"
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{
		Status:     &status,
		ResultJSON: &result,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got2, err := s.QueryAuditRecords(ctx, AuditQuery{TraceID: "trace-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit after update: %v", err)
	}
	if len(got2) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got2))
	}
	if got2[0].Status != "success" || got2[0].ResultJSON != result {
		t.Fatalf("unexpected updated record: status=%s result=%s", got2[0].Status, got2[0].ResultJSON)
	}

	if err := s.UpdateAuditRecord(ctx, 9999, AuditUpdate{Status: &status}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found error for missing record")
	}
}

func TestNilStorageGuards(t *testing.T) {
	var s *Storage
	ctx := context.Background()
	if err := s.Ping(ctx); err == nil {
		t.Fatalf("expected error from nil storage")
	}
	if _, err := s.QueryTurnRecords(ctx, TurnQuery{}); err == nil {
		t.Fatalf("expected error from nil storage")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close nil storage: %v", err)
	}
}

func TestDSNFromConfig(t *testing.T) {
	dsn, err := dsnFromConfig(Config{Path: "/tmp/p.db", EnableWAL: true, BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	want := "file:/tmp/p.db?_pragma=busy_timeout(2000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	if dsn != want {
		t.Fatalf("unexpected dsn:\n got %s\nwant %s", dsn, want)
	}

	dsn, err = dsnFromConfig(Config{InMemory: true, EnableWAL: true})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:pennyagent?mode=memory&cache=shared&") || strings.Contains(dsn, "journal_mode") {
		t.Fatalf("unexpected in-memory dsn: %s", dsn)
	}

	if _, err := dsnFromConfig(Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestGormLoggerReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	s, err := Open(ctx, Config{
		Path:   filepath.Join(t.TempDir(), "log.db"),
		Logger: NewGormLogger(zerolog.New(&buf), time.Hour),
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.DB().WithContext(ctx).Exec("SELECT * FROM missing_table").Error; err == nil {
		t.Fatalf("expected error for missing table")
	}
	if !strings.Contains(buf.String(), "sql failed") {
		t.Fatalf("expected failed sql to be logged, got: %s", buf.String())
	}
}

package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PennyAgent/internal/storage"
)

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunTranscript(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t)
	at := time.Now().UTC()
	require.NoError(t, store.InsertTurnRecords(ctx, []storage.TurnRecord{
		{SessionID: "sess-1", Speaker: "User", Text: "Hi", CreatedAt: at},
		{SessionID: "sess-1", Speaker: "Penny", Text: "What is your email?", CreatedAt: at},
		{SessionID: "sess-2", Speaker: "User", Text: "other", CreatedAt: at},
	}))

	var out bytes.Buffer
	require.NoError(t, runTranscript(ctx, store, &out, []string{"sess-1"}))
	assert.Contains(t, out.String(), "User: Hi")
	assert.Contains(t, out.String(), "Penny: What is your email?")
	assert.NotContains(t, out.String(), "other")

	out.Reset()
	require.NoError(t, runTranscript(ctx, store, &out, []string{"missing"}))
	assert.Contains(t, out.String(), "No transcript found")
}

func TestRunAudit(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t)
	rec := storage.AuditRecord{SessionID: "sess-1", Action: "EmailValidation", ParamsJSON: "jane@example.com", Status: "success"}
	require.NoError(t, store.InsertAuditRecord(ctx, &rec))

	auditQuery = storage.AuditQuery{SessionID: "sess-1", Limit: 10}
	t.Cleanup(func() { auditQuery = storage.AuditQuery{} })

	var out bytes.Buffer
	require.NoError(t, runAudit(ctx, store, &out, nil))
	assert.Contains(t, out.String(), "EmailValidation")
	assert.Contains(t, out.String(), "jane@example.com")
}

func TestRunPruneAuditByCount(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t)
	for i := 0; i < 4; i++ {
		rec := storage.AuditRecord{Action: "AskUser", Status: "success"}
		require.NoError(t, store.InsertAuditRecord(ctx, &rec))
	}

	keepAuditCount, keepAuditDays = 1, 0
	t.Cleanup(func() { keepAuditCount = 0 })

	var out bytes.Buffer
	require.NoError(t, runPruneAudit(ctx, store, &out, nil))
	assert.Contains(t, out.String(), "Deleted 3 audit records.")
	assert.Contains(t, out.String(), "Remaining: 1 audit records, 0 turn records.")
}

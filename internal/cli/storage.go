package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PennyAgent/internal/monitor"
	"github.com/wwwzy/PennyAgent/internal/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理审计记录与对话转写数据库",
	Long: `查看数据库概况、按会话查询审计记录与对话转写、清理历史数据。
这些命令直接读写 storage.path 指向的 SQLite 文件，不需要 serve 在运行。`,
}

var (
	keepAuditCount int
	keepAuditDays  int

	auditQuery      storage.AuditQuery
	transcriptLimit int
)

func init() {
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "显示数据库统计概况",
		RunE:  withStorage(runInfo),
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "立即按配置的 retention 策略清理一次",
		Long:  `忽略定时任务间隔，按配置文件中的 retention 策略清理过期的审计记录与对话转写。`,
		RunE:  withStorage(runPrune),
	}

	pruneAuditCmd := &cobra.Command{
		Use:   "prune-audit",
		Short: "按保留条数或天数清理审计记录",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if keepAuditCount <= 0 && keepAuditDays <= 0 {
				return errors.New("must specify either --keep or --days")
			}
			return nil
		},
		RunE: withStorage(runPruneAudit),
	}
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "查询工具调用审计记录（最新的在前）",
		RunE:  withStorage(runAudit),
	}
	auditCmd.Flags().StringVar(&auditQuery.SessionID, "session", "", "按会话 ID 过滤")
	auditCmd.Flags().StringVar(&auditQuery.TraceID, "trace", "", "按 TraceID 过滤")
	auditCmd.Flags().StringVar(&auditQuery.Action, "action", "", "按工具名过滤，例如 IDVerification")
	auditCmd.Flags().StringVar(&auditQuery.Status, "status", "", "按状态过滤: running/success/failed")
	auditCmd.Flags().IntVar(&auditQuery.Limit, "limit", 50, "最多返回条数")

	transcriptCmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "按会话回放对话转写",
		Args:  cobra.ExactArgs(1),
		RunE:  withStorage(runTranscript),
	}
	transcriptCmd.Flags().IntVar(&transcriptLimit, "limit", 0, "最多返回条数（0 使用默认值）")

	storageCmd.AddCommand(infoCmd, pruneCmd, pruneAuditCmd, auditCmd, transcriptCmd)
	rootCmd.AddCommand(storageCmd)
}

type storageRun func(ctx context.Context, store *storage.Storage, out io.Writer, args []string) error

// withStorage 打开数据库后执行 fn，结束时关闭。
func withStorage(fn storageRun) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return errors.New("config not loaded")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		return fn(ctx, store, cmd.OutOrStdout(), args)
	}
}

func runInfo(ctx context.Context, store *storage.Storage, out io.Writer, _ []string) error {
	if !cfg.Storage.Enabled {
		fmt.Fprintln(out, "Note: storage.enabled is false, chat and serve do not write to this database.")
	}

	turns, err := store.CountTurnRecords(ctx)
	if err != nil {
		return err
	}
	audits, err := store.CountAuditRecords(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database File: %s\n\n", describeDBFile(cfg.Storage))
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "TurnRecords\t%d\n", turns)
	fmt.Fprintf(w, "AuditRecords\t%d\n", audits)
	return w.Flush()
}

func describeDBFile(c storage.Config) string {
	if c.InMemory {
		return "in-memory"
	}
	path := c.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s (%v)", path, err)
	}
	return fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, path)
}

func runPrune(ctx context.Context, store *storage.Storage, out io.Writer, _ []string) error {
	r := cfg.Retention
	fmt.Fprintf(out, "Policy: audit_keep=%s audit_keep_latest=%d turn_keep=%s\n", r.AuditKeep, r.AuditKeepLatest, r.TurnKeep)
	if err := monitor.Prune(ctx, store, r); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return printRemaining(ctx, store, out)
}

func runPruneAudit(ctx context.Context, store *storage.Storage, out io.Writer, _ []string) error {
	var deleted int64

	if keepAuditCount > 0 {
		n, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
		deleted += n
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Fprintf(out, "Pruning audit records before %s...\n", before.Format(time.RFC3339))
		for {
			n, err := store.DeleteAuditRecordsBeforeLimited(ctx, before, 0)
			if err != nil {
				return fmt.Errorf("prune by days: %w", err)
			}
			if n == 0 {
				break
			}
			deleted += n
		}
	}

	fmt.Fprintf(out, "Deleted %d audit records.\n", deleted)
	return printRemaining(ctx, store, out)
}

func printRemaining(ctx context.Context, store *storage.Storage, out io.Writer) error {
	audits, err := store.CountAuditRecords(ctx)
	if err != nil {
		return err
	}
	turns, err := store.CountTurnRecords(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Remaining: %d audit records, %d turn records.\n", audits, turns)
	return nil
}

func runAudit(ctx context.Context, store *storage.Storage, out io.Writer, _ []string) error {
	q := auditQuery
	q.Desc = true
	recs, err := store.QueryAuditRecords(ctx, q)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No audit records found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTime\tSession\tAction\tStatus\tDuration\tParams")
	for _, r := range recs {
		dur := "-"
		if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.SessionID, r.Action, r.Status, dur, truncate(r.ParamsJSON, 48))
	}
	return w.Flush()
}

func runTranscript(ctx context.Context, store *storage.Storage, out io.Writer, args []string) error {
	recs, err := store.QueryTurnRecords(ctx, storage.TurnQuery{SessionID: args[0], Limit: transcriptLimit})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "No transcript found for session %s.\n", args[0])
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(out, "[%s] %s: %s\n", r.CreatedAt.Local().Format(time.TimeOnly), r.Speaker, r.Text)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

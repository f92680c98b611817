package tourwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/audit"
	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the connection and credential audit log",
	RunE:  runAudit,
}

var (
	auditEventType string
	auditActor     string
	auditLimit     int
	auditSince     string
)

func init() {
	auditCmd.Flags().StringVar(&auditEventType, "type", "", "filter by event type (e.g. channel_retry)")
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "filter by actor (channel, gateway, cli)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2026-01-01)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	auditLog, err := audit.New(db.DB())
	if err != nil {
		return fmt.Errorf("initializing audit logger: %w", err)
	}

	filter := audit.Filter{
		EventType: auditEventType,
		Actor:     auditActor,
		Limit:     auditLimit,
	}

	if auditSince != "" {
		t, err := time.Parse("2006-01-02", auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use YYYY-MM-DD): %w", err)
		}
		filter.Since = t
	}

	entries, err := auditLog.Query(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-18s actor=%-8s %s\n", ts, e.EventType, e.Actor, e.Detail)
	}

	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

func logTokenChange(ctx context.Context, db *gorm.DB, eventType string, cfg *config.Config, name string) {
	auditLog, err := audit.New(db)
	if err == nil {
		err = auditLog.Log(ctx, eventType, cfg.Live.Endpoint, "cli", map[string]string{"name": name})
	}
	if err != nil {
		slog.Warn("audit log failed", slog.String("err", err.Error()))
	}
}

package tourwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/store"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List stored live messages",
	RunE:  runEvents,
}

var (
	eventsKind  string
	eventsLimit int
	eventsSince string
)

func init() {
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "filter by message type")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "show events received within this duration (e.g. 2h)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	filter := store.EventFilter{Kind: eventsKind, Limit: eventsLimit}
	if eventsSince != "" {
		d, err := time.ParseDuration(eventsSince)
		if err != nil {
			return fmt.Errorf("invalid --since (use a duration like 30m): %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	events, err := db.RecentEvents(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	for _, e := range events {
		kind := e.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Printf("[%s] %-12s %s\n", e.ReceivedAt.Local().Format("2006-01-02 15:04:05"), kind, e.Payload)
	}
	fmt.Printf("\n%d events\n", len(events))
	return nil
}

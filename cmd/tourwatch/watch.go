package tourwatch

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
	"github.com/igorsilveira/tourwatch/pkg/tui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a live channel and watch it in an interactive terminal UI",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if cfg.Live.Endpoint == "" {
		return errNoEndpoint
	}

	// The alt screen owns the terminal; logs would tear it.
	logger := telemetry.SetupLogger(cfg.Log.Level, "text", io.Discard)

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	creds, err := openCredentials(cfg, db)
	if err != nil {
		return err
	}

	var ch *livechannel.Channel
	var prog *tea.Program
	prog = tui.NewProgram(func(msg any) error { return ch.Send(msg) })

	opts := append(channelOptions(cfg, logger),
		livechannel.WithAutoConnect(false),
		livechannel.WithOnMessage(func(msg any) {
			prog.Send(tui.LiveMsg{At: time.Now(), Data: msg})
		}),
		livechannel.WithOnEvent(func(ev livechannel.Event) {
			prog.Send(tui.StatusMsg(ch.Status()))
		}),
	)
	ch, err = livechannel.New(cfg.Live.Endpoint, tokenSource(cfg, creds, logger), opts...)
	if err != nil {
		return fmt.Errorf("creating live channel: %w", err)
	}
	defer ch.Close()

	go func() {
		prog.Send(tui.StatusMsg(ch.Status()))
		ch.Connect()
	}()

	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

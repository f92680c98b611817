package tourwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/igorsilveira/tourwatch/pkg/audit"
	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/gateway"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/notify"
	"github.com/igorsilveira/tourwatch/pkg/relay"
	"github.com/igorsilveira/tourwatch/pkg/scheduler"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect to the live feed and serve the local gateway",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if cfg.Live.Endpoint == "" {
		return errNoEndpoint
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, nil)
	logger.Info("starting tourwatch",
		slog.String("version", version),
		slog.String("endpoint", cfg.Live.Endpoint),
		slog.Int("port", cfg.Gateway.Port),
		slog.String("bind", cfg.Gateway.Bind),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	auditLog, err := audit.New(db.DB())
	if err != nil {
		return fmt.Errorf("initializing audit log: %w", err)
	}

	creds, err := openCredentials(cfg, db)
	if err != nil {
		return err
	}
	if creds == nil {
		logger.Info("credential store disabled, reading token from environment only",
			slog.String("master_key_env", cfg.Credentials.MasterKeyEnv),
			slog.String("token_env", cfg.Live.TokenEnv),
		)
	}

	hub := relay.New(relay.DefaultBuffer, telemetry.Component(logger, "relay"))
	dispatcher := notify.NewDispatcher(cfg.Notify.Types, telemetry.Component(logger, "notify"), buildNotifiers(cfg, logger)...)
	router := gateway.NewMessageRouter(gateway.RouterConfig{
		Store:  db,
		Relay:  hub,
		Alerts: dispatcher,
		Logger: telemetry.Component(logger, "router"),
	})
	recorder := audit.NewRecorder(auditLog, cfg.Live.Endpoint, logger)

	var ch *livechannel.Channel
	opts := append(channelOptions(cfg, logger),
		livechannel.WithAutoConnect(false),
		livechannel.WithOnMessage(router.Handle),
		livechannel.WithOnEvent(func(ev livechannel.Event) {
			recorder.Record(ev)
			if ev.Kind == livechannel.EventStateChanged && ch != nil {
				hub.Broadcast(relay.Frame{Type: relay.FrameStatus, Data: ch.Status()})
			}
		}),
	)
	ch, err = livechannel.New(cfg.Live.Endpoint, tokenSource(cfg, creds, logger), opts...)
	if err != nil {
		return fmt.Errorf("creating live channel: %w", err)
	}

	sched := scheduler.New()
	retention, err := scheduler.RetentionJob(cfg.Store.Prune, cfg.Store.RetentionDuration(), map[string]scheduler.Pruner{
		"live_events": db,
		"audit_log":   auditLog,
	})
	if err == nil {
		err = sched.Add(retention)
	}
	if err != nil {
		logger.Warn("retention pruning disabled", slog.String("err", err.Error()))
	}

	routerDone := make(chan struct{})
	go func() {
		router.Start(ctx)
		close(routerDone)
	}()
	go sched.Start(ctx)

	var gwErr chan error
	if cfg.Gateway.Enabled {
		gwErr = make(chan error, 1)
		var hooks *gateway.HookHandler
		if cfg.Gateway.WebhookSecret != "" {
			hooks, err = gateway.NewHookHandler(cfg.Gateway.WebhookSecret, ch, telemetry.Component(logger, "hooks"))
			if err != nil {
				return fmt.Errorf("creating webhook handler: %w", err)
			}
		}
		gwCfg := gateway.Config{
			Bind:      cfg.Gateway.Bind,
			Port:      cfg.Gateway.Port,
			Channel:   ch,
			Events:    db,
			Hub:       hub,
			Audit:     auditLog,
			Logger:    telemetry.Component(logger, "gateway"),
			AuthToken: cfg.Gateway.AuthToken,
		}
		if hooks != nil {
			gwCfg.Webhooks = hooks
		}
		gw := gateway.New(gwCfg)
		go func() { gwErr <- gw.Start(ctx) }()
	}

	if cfg.Live.AutoConnectEnabled() {
		ch.Connect()
	}

	var runErr error
	select {
	case <-ctx.Done():
		if gwErr != nil {
			runErr = <-gwErr
		}
	case runErr = <-gwErr:
		if runErr != nil {
			logger.Error("gateway failed", slog.String("err", runErr.Error()))
		}
		cancel()
	}

	logger.Info("shutting down")
	ch.Close()
	sched.Stop()
	<-routerDone
	hub.Stop()
	return runErr
}

package tourwatch

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/credentials"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/notify"
	"github.com/igorsilveira/tourwatch/pkg/store"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

var errNoEndpoint = fmt.Errorf("live.endpoint is not configured (set it in %s)", config.DefaultConfigPath())

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := store.New(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return db, nil
}

// openCredentials returns nil without error when no master key is set;
// the token can still come from the environment.
func openCredentials(cfg *config.Config, db *store.Store) (*credentials.Store, error) {
	key := os.Getenv(cfg.Credentials.MasterKeyEnv)
	if key == "" {
		return nil, nil
	}
	creds, err := credentials.New(db.DB(), key)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return creds, nil
}

func requireCredentials(cfg *config.Config, db *store.Store) (*credentials.Store, error) {
	creds, err := openCredentials(cfg, db)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("%s is not set; the credential store needs a master key", cfg.Credentials.MasterKeyEnv)
	}
	return creds, nil
}

// tokenSource prefers the environment over the encrypted store so an
// operator can override a stored token without deleting it.
func tokenSource(cfg *config.Config, creds *credentials.Store, logger *slog.Logger) credentials.Source {
	sources := []credentials.Source{credentials.Env(cfg.Live.TokenEnv)}
	if creds != nil {
		sources = append(sources, credentials.FromStore(creds, cfg.Live.TokenName, logger))
	}
	return credentials.Chain(sources...)
}

func channelOptions(cfg *config.Config, logger *slog.Logger) []livechannel.Option {
	chLogger := telemetry.Component(logger, "livechannel")
	return []livechannel.Option{
		livechannel.WithMaxRetries(cfg.Live.MaxRetries),
		livechannel.WithRetryInterval(cfg.Live.RetryIntervalDuration()),
		livechannel.WithTokenParam(cfg.Live.TokenParam),
		livechannel.WithLogger(chLogger),
		livechannel.WithDialer(livechannel.NewWebSocketDialer(livechannel.WebSocketOptions{
			HandshakeTimeout: cfg.Live.HandshakeTimeoutDuration(),
			WriteTimeout:     cfg.Live.WriteTimeoutDuration(),
			ReadLimit:        cfg.Live.ReadLimit,
			TokenParam:       cfg.Live.TokenParam,
			Logger:           chLogger,
		})),
	}
}

// buildNotifiers creates every enabled notifier. A notifier that cannot
// be created is logged and skipped so alerting never blocks startup.
func buildNotifiers(cfg *config.Config, logger *slog.Logger) []notify.Notifier {
	var out []notify.Notifier
	add := func(n notify.Notifier, err error) {
		if err != nil {
			logger.Warn("notifier disabled", slog.String("err", err.Error()))
			return
		}
		logger.Info("notifier enabled", slog.String("notifier", n.Name()))
		out = append(out, n)
	}

	nc := cfg.Notify
	if nc.Discord.Enabled {
		n, err := notify.NewDiscord(os.Getenv(nc.Discord.TokenEnv), nc.Discord.ChannelID)
		add(n, err)
	}
	if nc.Slack.Enabled {
		n, err := notify.NewSlack(os.Getenv(nc.Slack.TokenEnv), nc.Slack.ChannelID)
		add(n, err)
	}
	if nc.Telegram.Enabled {
		n, err := notify.NewTelegram(os.Getenv(nc.Telegram.TokenEnv), nc.Telegram.ChatID)
		add(n, err)
	}
	return out
}

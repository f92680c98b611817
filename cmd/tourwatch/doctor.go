package tourwatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/credentials"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the tourwatch installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("tourwatch doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg := config.Current()
	checks := []checkResult{
		checkDataDir(),
		checkConfig(),
		checkDatabase(cfg),
		checkEndpoint(cfg),
		checkMasterKey(cfg),
		checkToken(cfg),
		checkNotifier("Discord", cfg.Notify.Discord.Enabled, cfg.Notify.Discord.TokenEnv),
		checkNotifier("Slack", cfg.Notify.Slack.Enabled, cfg.Notify.Slack.TokenEnv),
		checkNotifier("Telegram", cfg.Notify.Telegram.Enabled, cfg.Notify.Telegram.TokenEnv),
		checkRunning(cfg),
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() checkResult {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return checkResult{"Config file", false, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	return checkResult{"Config file", true, path}
}

func checkDatabase(cfg *config.Config) checkResult {
	info, err := os.Stat(cfg.Store.DSN)
	if err != nil {
		return checkResult{"Database", false, fmt.Sprintf("%s not found (will be created on first start)", cfg.Store.DSN)}
	}
	return checkResult{"Database", true, fmt.Sprintf("%s (%d KB)", cfg.Store.DSN, info.Size()/1024)}
}

func checkEndpoint(cfg *config.Config) checkResult {
	if cfg.Live.Endpoint == "" {
		return checkResult{"Live endpoint", false, "live.endpoint not set"}
	}
	u, err := url.Parse(cfg.Live.Endpoint)
	if err != nil {
		return checkResult{"Live endpoint", false, err.Error()}
	}
	if u.Scheme == "ws" || u.Scheme == "http" {
		return checkResult{"Live endpoint", true, fmt.Sprintf("%s (unencrypted; the token travels in the URL)", u.Host)}
	}
	return checkResult{"Live endpoint", true, u.Host}
}

func checkMasterKey(cfg *config.Config) checkResult {
	if os.Getenv(cfg.Credentials.MasterKeyEnv) == "" {
		return checkResult{"Master key", false, fmt.Sprintf("%s not set (credential store disabled)", cfg.Credentials.MasterKeyEnv)}
	}
	return checkResult{"Master key", true, "set"}
}

func checkToken(cfg *config.Config) checkResult {
	if v, ok := credentials.Env(cfg.Live.TokenEnv).Credential(); ok {
		return checkResult{"Live token", true, fmt.Sprintf("from %s (%d chars)", cfg.Live.TokenEnv, len(v))}
	}
	if _, err := os.Stat(cfg.Store.DSN); err != nil {
		return checkResult{"Live token", false, fmt.Sprintf("%s not set and no credential store", cfg.Live.TokenEnv)}
	}

	db, err := openStore(cfg)
	if err != nil {
		return checkResult{"Live token", false, err.Error()}
	}
	defer func() { _ = db.Close() }()

	creds, err := openCredentials(cfg, db)
	if err != nil || creds == nil {
		return checkResult{"Live token", false, fmt.Sprintf("%s not set and credential store unavailable", cfg.Live.TokenEnv)}
	}
	if _, ok := credentials.FromStore(creds, cfg.Live.TokenName, telemetry.Discard()).Credential(); ok {
		return checkResult{"Live token", true, fmt.Sprintf("stored as %q", cfg.Live.TokenName)}
	}
	return checkResult{"Live token", false, fmt.Sprintf("run `tourwatch token set` or export %s", cfg.Live.TokenEnv)}
}

func checkNotifier(name string, enabled bool, tokenEnv string) checkResult {
	label := name + " alerts"
	if !enabled {
		return checkResult{label, true, "disabled"}
	}
	if os.Getenv(tokenEnv) == "" {
		return checkResult{label, false, fmt.Sprintf("%s not set", tokenEnv)}
	}
	return checkResult{label, true, "configured"}
}

func checkRunning(cfg *config.Config) checkResult {
	resp, err := apiRequest(cfg, http.MethodGet, "/api/live", nil)
	if err != nil {
		return checkResult{"Gateway", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return checkResult{"Gateway", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
	}
	var st livechannel.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return checkResult{"Gateway", false, "unreadable status"}
	}
	if st.State != livechannel.StateOpen {
		detail := fmt.Sprintf("running, live channel %s", st.State)
		if st.LastError != "" {
			detail += ": " + st.LastError
		}
		return checkResult{"Gateway", false, detail}
	}
	return checkResult{"Gateway", true, fmt.Sprintf("running at :%d, live channel open", cfg.Gateway.Port)}
}

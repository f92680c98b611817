package tourwatch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/config"
)

// apiRequest calls the local gateway of a running `tourwatch start`.
func apiRequest(cfg *config.Config, method, path string, body io.Reader) (*http.Response, error) {
	host := "127.0.0.1"
	switch cfg.Gateway.Bind {
	case "", "loopback", "lan", "all":
	default:
		host = cfg.Gateway.Bind
	}
	url := fmt.Sprintf("http://%s:%d%s", host, cfg.Gateway.Port, path)

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Gateway.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.AuthToken)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	return client.Do(req)
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return fmt.Errorf("gateway returned %s: %s", resp.Status, body.Error)
}

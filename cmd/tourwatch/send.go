package tourwatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/tui"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <json-or-text>",
	Short: "Send a message upstream through a running tourwatch",
	Long:  "Sends JSON as-is; anything else is wrapped as {\"type\":\"text\",\"content\":...}. The live channel must be open.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	body, err := json.Marshal(tui.ParseInput(strings.Join(args, " ")))
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	resp, err := apiRequest(cfg, http.MethodPost, "/api/live/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tourwatch is not running: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	fmt.Println("sent")
	return nil
}

package tourwatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live channel state of a running tourwatch",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	resp, err := apiRequest(cfg, http.MethodGet, "/api/live", nil)
	if err != nil {
		fmt.Println("status: tourwatch is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	var st livechannel.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("endpoint: %s\n", st.Endpoint)
	fmt.Printf("state:    %s\n", st.State)
	fmt.Printf("retries:  %d/%d\n", st.RetryCount, st.MaxRetries)
	if !st.UpdatedAt.IsZero() {
		fmt.Printf("updated:  %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if st.LastError != "" {
		fmt.Printf("error:    %s\n", st.LastError)
	}
	if st.LastMessage != nil {
		b, _ := json.Marshal(st.LastMessage)
		fmt.Printf("last:     %s\n", b)
	}
	return nil
}

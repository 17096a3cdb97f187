package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mealserve/mealserve/internal/config"
)

var (
	apiURL     string
	outputJSON bool
	verbose    bool
)

// SetAPIConfig sets the base URL used for remote commands
func SetAPIConfig(url string) {
	apiURL = url
}

// SetOutputJSON sets the output format preference
func SetOutputJSON(json bool) {
	outputJSON = json
}

// SetVerbose sets verbose output
func SetVerbose(v bool) {
	verbose = v
}

// HTTPClient is a configured HTTP client for API calls
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// APIGet fetches an endpoint of a running server and decodes the JSON body
// into dest.
func APIGet(ctx context.Context, endpoint string, dest interface{}) error {
	if apiURL == "" {
		return fmt.Errorf("an --api-url is required for remote operations")
	}

	if verbose {
		fmt.Printf("Making GET request to: %s\n", apiURL+endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// OutputTable outputs data in table format
func OutputTable(headers []string, rows [][]string) {
	if outputJSON {
		// Convert table to JSON structure
		var jsonRows []map[string]string
		for _, row := range rows {
			jsonRow := make(map[string]string)
			for i, cell := range row {
				if i < len(headers) {
					jsonRow[headers[i]] = cell
				}
			}
			jsonRows = append(jsonRows, jsonRow)
		}
		OutputJSON(jsonRows)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Print headers
	for i, header := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, header)
	}
	_, _ = fmt.Fprintln(w)

	// Print separator
	for i := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, "---")
	}
	_, _ = fmt.Fprintln(w)

	// Print rows
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, cell)
		}
		_, _ = fmt.Fprintln(w)
	}

	_ = w.Flush()
}

// OutputJSON outputs data in JSON format
func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

// NewConfigCommand creates the config command group
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with server configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Load and validate a server configuration",
		Long:  "Loads config.yaml from the given directory (or the default search path) and runs the same validation the server runs at startup.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}

			cfg, err := config.Load(dir)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate: %w", err)
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"valid":  true,
					"models": len(cfg.Models),
					"port":   cfg.Server.Port,
				})
				return nil
			}

			fmt.Printf("Configuration is valid\n")
			fmt.Printf("  Port:   %d\n", cfg.Server.Port)
			fmt.Printf("  Models: %d\n", len(cfg.Models))
			fmt.Printf("  Cache:  enabled=%v local_size=%d\n", cfg.Cache.Enabled, cfg.Cache.LocalSize)
			return nil
		},
	})

	return cmd
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowPeek/internal/platform"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List windows that can be mirrored",
	Long: `List the windows WindowPeek offers as overlay sources.

Only top-level, visible, titled windows of at least 80x80 pixels are shown,
with duplicates of the same process and title collapsed.`,
	Example: `  # List windows in table format (default)
  windowpeek list

  # List windows in JSON format
  windowpeek list --format json`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

func runList(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	x, err := platform.Open(cfg.Display)
	if err != nil {
		return err
	}
	defer x.Close()

	candidates, err := x.ListCandidates()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(candidates)
	case "table":
		return printWindowsTable(candidates)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printWindowsTable(candidates []window.Candidate) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tEXE\tPID\tSIZE\tTITLE")
	fmt.Fprintln(w, "--\t---\t---\t----\t-----")

	for _, c := range candidates {
		fmt.Fprintf(w, "%#x\t%s\t%d\t%dx%d\t%s\n", c.Ref.ID, c.Ref.Exe, c.Ref.PID, c.Width, c.Height, c.Ref.Title)
	}

	return nil
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Inspect remembered overlay views",
	Long: `Overlay position, size, crop and opacity are remembered per window title
and per executable. These commands show where the records live and what is
stored for a window.`,
}

var viewsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the view settings directory",
	RunE:  runViewsPath,
}

var viewsShowCmd = &cobra.Command{
	Use:   "show TITLE [EXE]",
	Short: "Show the view remembered for a window",
	Long: `Show the record the overlay would restore for a window. The title record
wins over the executable record, exactly as when attaching.`,
	Example: `  # Look up by title only
  windowpeek views show 'lecture.mkv - mpv'

  # Fall back to the executable record
  windowpeek views show 'lecture.mkv - mpv' mpv`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runViewsShow,
}

func init() {
	rootCmd.AddCommand(viewsCmd)
	viewsCmd.AddCommand(viewsPathCmd)
	viewsCmd.AddCommand(viewsShowCmd)
}

func runViewsPath(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Println(config.NewViewStore(cfg.SettingsDir).Dir())
	return nil
}

func runViewsShow(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	title, exe := args[0], window.UnknownExe
	if len(args) > 1 {
		exe = args[1]
	}

	rec, ok := config.NewViewStore(cfg.SettingsDir).Load(title, exe)
	if !ok {
		return fmt.Errorf("no view remembered for %q", title)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rec)
}

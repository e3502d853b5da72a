package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "windowpeek",
		Short: "WindowPeek - live, cropped, translucent window mirrors",
		Long: `WindowPeek mirrors another window into a small always-on-top overlay.
The mirror is live, can be cropped to the part of the source you care about,
and is translucent so the desktop underneath stays visible.

Features:
  • Compositor thumbnails (no pixel copies) or frame capture
  • Drag gestures to move, resize, crop and fade the overlay
  • Per-window view settings remembered across runs
  • Survives minimizing and restoring the source
  • Local HTTP/WebSocket API for diagnostics`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/windowpeek/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("engine", "", "acquisition engine (thumbnail or frame)")
	rootCmd.PersistentFlags().Int("port", 0, "API port (default is 8787)")
	rootCmd.PersistentFlags().String("display", "", "X display to connect to (default is $DISPLAY)")
}

// flagKeys maps persistent flags onto settings keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"engine":    "engine",
	"port":      "api.port",
	"display":   "display",
}

// loadConfig opens the settings file, layers the global flags on top and
// initializes logging from the result.
func loadConfig() (*config.Manager, config.Settings, error) {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, config.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}

	v := configMgr.Viper()
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return nil, config.Settings{}, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return nil, config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, true)
	return configMgr, cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

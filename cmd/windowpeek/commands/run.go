package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/WindowPeek/internal/api"
	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
	"github.com/bryanchriswhite/WindowPeek/internal/picker"
	"github.com/bryanchriswhite/WindowPeek/internal/platform"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror a window into an overlay",
	Long: `Pick a source window and mirror it into an always-on-top overlay.

Without --window or --title an interactive picker lists the candidate
windows. The overlay runs until the close chord is used or the process is
interrupted. Hold the help key and click the blue square for the controls.`,
	Example: `  # Choose the source interactively
  windowpeek run

  # Mirror a specific window by X window ID
  windowpeek run --window 0x3a00007

  # Mirror the first window whose title matches
  windowpeek run --title 'YouTube'

  # Pull frames instead of using compositor thumbnails
  windowpeek run --engine frame`,
	RunE: runRun,
}

var (
	runWindow string
	runTitle  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runWindow, "window", "w", "", "X window ID of the source (decimal or 0x hex)")
	runCmd.Flags().StringVarP(&runTitle, "title", "t", "", "regular expression matched against window titles")
	runCmd.MarkFlagsMutuallyExclusive("window", "title")
}

func runRun(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("run")

	kind, err := capture.ParseKind(cfg.Engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	x, err := platform.Open(cfg.Display)
	if err != nil {
		return err
	}
	defer x.Close()

	pick := picker.New(os.Stdin, os.Stderr)
	ref, err := chooseSource(ctx, x, x, pick)
	if err != nil {
		if errors.Is(err, picker.ErrCancelled) {
			log.Info().Msg("No window selected")
			return nil
		}
		return err
	}

	surface, err := platform.NewSurface(x, overlay.HeaderHint(cfg.Keys), os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create overlay window: %w", err)
	}
	defer surface.Close()

	compositor := platform.NewCompositor(x, platform.DefaultRefreshInterval)
	engine, err := capture.New(kind, capture.Deps{
		Prober:        x,
		Compositor:    compositor,
		Device:        platform.NewGrabber(x),
		Surface:       surface.ID(),
		FrameInterval: cfg.FrameInterval,
	})
	if err != nil {
		return err
	}

	ctrl, err := overlay.New(overlay.Deps{
		Engine:   engine,
		Surface:  surface,
		Prober:   x,
		Lister:   x,
		Selector: pick,
		Store:    config.NewViewStore(cfg.SettingsDir),
		Settings: overlay.SettingsFrom(cfg),
	})
	if err != nil {
		return err
	}
	if err := ctrl.Attach(ref); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", ref.Label(), err)
	}

	pump, err := platform.NewInputPump(x, surface)
	if err != nil {
		return err
	}

	configMgr.Watch(func(s config.Settings) {
		logger.SetLevel(s.LogLevel)
		log.Info().Str("log_level", s.LogLevel).Msg("Settings reloaded")
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The controller stops on the close chord; take everything else down with it.
		defer cancel()
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		return pump.Run(gctx, ctrl.Dispatch)
	})
	if kind == capture.KindThumbnail {
		g.Go(func() error {
			return compositor.Run(gctx)
		})
	}
	if cfg.API.Enabled {
		server := api.NewServer(ctrl, x, configMgr)
		g.Go(func() error {
			return server.Run(gctx, cfg.API.Port)
		})
	}

	log.Info().
		Str("source", ref.Label()).
		Str("engine", string(kind)).
		Str("settings", cfg.SettingsDir).
		Msg("Overlay running")

	if err := g.Wait(); err != nil {
		return err
	}
	if fe, ok := engine.(*capture.FrameEngine); ok {
		st := fe.Stats()
		log.Info().
			Uint64("delivered", st.Delivered).
			Uint64("overwritten", st.Overwritten).
			Uint64("placeholders", st.Placeholders).
			Uint64("discarded", st.Discarded).
			Msg("Overlay closed")
		return nil
	}
	log.Info().Msg("Overlay closed")
	return nil
}

// chooseSource resolves the source from --window, --title or the picker.
func chooseSource(ctx context.Context, prober window.Prober, lister window.Lister, sel overlay.Selector) (window.Ref, error) {
	switch {
	case runWindow != "":
		id, err := strconv.ParseUint(runWindow, 0, 32)
		if err != nil {
			return window.Ref{}, fmt.Errorf("invalid window ID %q: %w", runWindow, err)
		}
		candidates, err := lister.ListCandidates()
		if err != nil {
			return window.Ref{}, err
		}
		for _, c := range candidates {
			if c.Ref.ID == uint32(id) {
				return c.Ref, nil
			}
		}
		if status := prober.Probe(uint32(id)); status != window.StatusAlive {
			return window.Ref{}, fmt.Errorf("window %#x is %s: %w", id, status, capture.ErrInvalidSource)
		}
		// Windows the listing filters out can still be mirrored by ID.
		if r, ok := prober.(interface{ Ref(uint32) window.Ref }); ok {
			return r.Ref(uint32(id)), nil
		}
		return window.Ref{ID: uint32(id), Exe: window.UnknownExe}, nil

	case runTitle != "":
		re, err := regexp.Compile(runTitle)
		if err != nil {
			return window.Ref{}, fmt.Errorf("invalid title pattern: %w", err)
		}
		candidates, err := lister.ListCandidates()
		if err != nil {
			return window.Ref{}, err
		}
		return matchTitle(candidates, re)

	default:
		candidates, err := lister.ListCandidates()
		if err != nil {
			return window.Ref{}, err
		}
		return sel.Choose(ctx, candidates)
	}
}

// matchTitle returns the first candidate whose title matches re.
func matchTitle(candidates []window.Candidate, re *regexp.Regexp) (window.Ref, error) {
	for _, c := range candidates {
		if re.MatchString(c.Ref.Title) {
			return c.Ref, nil
		}
	}
	return window.Ref{}, fmt.Errorf("no window title matches %q", re.String())
}

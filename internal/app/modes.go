package app

import (
	"context"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyterm/internal/domain"
	"github.com/alanyoungcy/polyterm/internal/engine"
	"github.com/alanyoungcy/polyterm/internal/tui"
)

// DashMode runs the state engine alongside the interactive terminal UI.
// While the UI owns the terminal, engine logs are redirected into the
// status buffer so they surface in the logs panel instead of corrupting
// the screen.
func (a *App) DashMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dashboard")

	level := slogLevel(a.cfg.LogLevel)
	panelLogger := slog.New(engine.NewLogHandler(deps.Engine.Status(), level))
	eng := deps.Engine
	eng.SetLogger(panelLogger)

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return eng.Run(ctx)
	})

	model := tui.NewModel(eng, a.cfg.UI)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		return err
	})

	err := g.Wait()
	if err == context.Canceled || err == tea.ErrProgramKilled {
		return nil
	}
	return err
}

// MonitorMode runs the engine headless and logs a periodic summary of the
// events tab. Useful for checking connectivity and data flow without a
// terminal UI.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := deps.Engine

	g.Go(func() error {
		return eng.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Engine.PollInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				snap := eng.GetSnapshot(domain.TabEvents, domain.PanelList, "")
				a.logger.InfoContext(ctx, "engine summary",
					slog.Uint64("store_rev", snap.StoreRev),
					slog.Int("events", len(snap.Events)),
					slog.Int("connections", len(snap.Connections)),
					slog.Int("pending", snap.Pending),
				)
			}
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

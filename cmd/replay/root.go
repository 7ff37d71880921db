package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"replay/internal/config"
	"replay/internal/domain"
	"replay/internal/store"
	"replay/internal/strategy"
	"replay/internal/strategy/builtins"
	"replay/internal/util"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	cfgPath string
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "replay",
		Short:         "Bar-by-bar backtester for directional signals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $REPLAY_CONFIG or "+config.DefaultPath+")")

	root.AddCommand(
		newRunCmd(a),
		newWalkForwardCmd(a),
		newGateCmd(a),
		newRunsCmd(a),
	)
	return root
}

func (a *app) load() error {
	var err error
	if a.cfgPath != "" {
		a.cfg, err = config.Load(a.cfgPath)
	} else {
		a.cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.log = util.NewLogger(a.cfg.Logging.Level, a.cfg.Logging.Format)
	util.SetDefault(a.log)
	return nil
}

// candidate is the gate candidate with the configured filters applied.
func (a *app) candidate() string {
	name := a.cfg.Gates.Candidate
	if strings.Contains(name, "+") {
		return name
	}
	return strategy.FilteredName(name, a.cfg.Filters.ConfirmBars, a.cfg.Filters.HoldBars)
}

func (a *app) registry() *strategy.Registry {
	return builtins.Registry()
}

// backtester reads bars from the configured parquet store.
func (a *app) backtester() *strategy.Backtester {
	return strategy.NewBacktester(store.NewParquetStore(a.cfg.Storage.DataDir), a.registry(), a.log)
}

// resolve turns names into strategies, failing on the first unknown one.
func (a *app) resolve(names []string) ([]strategy.Strategy, error) {
	reg := a.registry()
	out := make([]strategy.Strategy, 0, len(names))
	for _, n := range names {
		s, err := reg.Resolve(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// readBars loads the configured dataset range through bt.
func (a *app) readBars(ctx context.Context, bt *strategy.Backtester) ([]domain.Bar, error) {
	start, end, err := a.cfg.Range()
	if err != nil {
		return nil, err
	}
	series := a.cfg.Series()
	bars, err := bt.Bars(ctx, series, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars stored for %s under %s", series, a.cfg.Storage.DataDir)
	}
	a.log.Info("bars loaded",
		"series", series.String(),
		"bars", len(bars),
		"first", bars[0].Time,
		"last", bars[len(bars)-1].Time,
	)
	return bars, nil
}

package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/smtsim/pfsim/driver"
	"github.com/smtsim/pfsim/monitoring"
	"github.com/smtsim/pfsim/report"
)

type runFlags struct {
	configFlags

	cycles      int64
	check       bool
	xlsxPath    string
	sqlitePath  string
	sampleEvery int64
	monitorAddr string
	openMonitor bool
	color       bool
	engineStats bool
}

// cleanup runs its function once, either when the command returns or from
// the fatal-exit path.
func cleanup(f func()) func() {
	var once sync.Once
	run := func() { once.Do(f) }
	atexit.Register(run)

	return run
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and report prefetcher statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, &flags)
		},
	}

	flags.register(cmd)

	f := cmd.Flags()
	f.Int64Var(&flags.cycles, "cycles", 0, "override sim.cycles")
	f.BoolVar(&flags.check, "check", false,
		"verify engine invariants while running")
	f.StringVar(&flags.xlsxPath, "xlsx", "", "write an XLSX report")
	f.StringVar(&flags.sqlitePath, "sqlite", "",
		"record periodic snapshots in a SQLite database")
	f.Int64Var(&flags.sampleEvery, "sample-every", 10000,
		"cycles between SQLite snapshots")
	f.StringVar(&flags.monitorAddr, "monitor", "",
		"serve a live monitor on this address, e.g. localhost:0")
	f.BoolVar(&flags.openMonitor, "open-monitor", false,
		"open the monitor in a browser")
	f.BoolVar(&flags.color, "color", false, "color the text report")
	f.BoolVar(&flags.engineStats, "engine-stats", false,
		"print every engine's full counters")

	return cmd
}

func (a *app) run(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	if flags.cycles > 0 {
		cfg.Cycles = flags.cycles
	}

	cfg.CheckInvariants = cfg.CheckInvariants || flags.check

	s, err := driver.NewSim(cfg, a.logger)
	if err != nil {
		return err
	}

	ev, err := report.NewEvaluator(report.DefaultMetrics)
	if err != nil {
		return err
	}

	if flags.sqlitePath != "" {
		rec, err := report.NewSQLiteRecorder(flags.sqlitePath, flags.path)
		if err != nil {
			return err
		}

		closeRec := cleanup(func() {
			if err := rec.Close(); err != nil {
				a.logger.WithError(err).Error("closing sqlite recorder")
			}
		})
		defer closeRec()

		s.Observe(flags.sampleEvery, rec)
		a.logger.Infof("recording run %s to %s", rec.RunID(), flags.sqlitePath)
	}

	if flags.monitorAddr != "" || flags.openMonitor {
		addr := flags.monitorAddr
		if addr == "" {
			addr = "localhost:0"
		}

		mon := monitoring.NewMonitor(s, ev, a.logger)

		url, err := mon.Start(addr)
		if err != nil {
			return err
		}

		stop := cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(),
				time.Second)
			defer cancel()

			_ = mon.Stop(ctx)
		})
		defer stop()

		cmd.Printf("monitor: %s\n", url)

		if flags.openMonitor {
			if err := monitoring.OpenBrowser(url + "/api/metrics"); err != nil {
				a.logger.WithError(err).Warn("cannot open browser")
			}
		}
	}

	res, err := s.Run()
	if err != nil {
		return errors.Wrap(err, "simulation failed")
	}

	table, err := report.BuildTable(ev, res)
	if err != nil {
		return err
	}

	report.WriteText(cmd.OutOrStdout(), res, table, report.TextOptions{
		Color:       flags.color,
		EngineStats: flags.engineStats,
	})

	if flags.xlsxPath != "" {
		if err := writeXLSX(flags.xlsxPath, res, table); err != nil {
			return err
		}
	}

	return nil
}

func writeXLSX(path string, res driver.Result, table *report.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}

	if err := report.WriteXLSX(f, res, table); err != nil {
		f.Close()
		return err
	}

	return errors.Wrapf(f.Close(), "closing %s", path)
}

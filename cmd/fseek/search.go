package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/flrossetto/fseek/config"
	"github.com/flrossetto/fseek/internal/events"
	"github.com/flrossetto/fseek/internal/firsterr"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/interrupt"
	"github.com/flrossetto/fseek/internal/search"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a record file for the first record containing a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSearchConfig(cmd)
			if err != nil {
				return err
			}

			log.SetLevel(cfg.Search.LogLevel)

			return runSearch(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Path to config file")
	f.IntP("workers", "w", 0, "Number of workers")
	f.IntP("records", "r", 0, "Records read by a worker per cycle")
	f.Int("record-size", 0, "Record width in bytes")
	f.StringP("query", "q", "", "Substring to search for")
	f.StringP("source", "s", "", "Path of the record file")
	f.String("cancel-mode", "", "deferred or immediate")
	f.String("lifetime", "", "joined or detached")
	f.Int64("max-buffer-bytes", config.DefaultMaxBufferBytes, "Cap on scan buffer bytes across workers, 0 for no cap")
	f.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	f.String("interrupt", "", "Interrupt mode: none, process, process-blocked, process-handler, worker, worker-handler, worker-fault")
	f.String("signal", "", "Signal for the interrupt mode: sigusr1, sigterm, sigkill, sigstop")
	f.Int("target", 0, "Worker index targeted by worker interrupt modes")

	return cmd
}

// loadSearchConfig layers defaults, the config file and explicitly set flags,
// then validates the result.
func loadSearchConfig(cmd *cobra.Command) (config.AppConfig, error) {
	f := cmd.Flags()
	cfg := config.Default()

	configPath, _ := f.GetString("config")

	found, err := config.LoadConfig(configPath, &cfg)
	if err != nil {
		return cfg, err
	}

	if found {
		log.Debug("Loaded config file")
	}

	if f.Changed("workers") {
		cfg.Search.Workers, _ = f.GetInt("workers")
	}

	if f.Changed("records") {
		cfg.Search.RecordsPerChunk, _ = f.GetInt("records")
	}

	if f.Changed("record-size") {
		cfg.Search.RecordSize, _ = f.GetInt("record-size")
	}

	if f.Changed("query") {
		cfg.Search.Query, _ = f.GetString("query")
	}

	if f.Changed("source") {
		cfg.Search.Source, _ = f.GetString("source")
	}

	if f.Changed("cancel-mode") {
		cfg.Search.CancelMode, _ = f.GetString("cancel-mode")
	}

	if f.Changed("lifetime") {
		cfg.Search.Lifetime, _ = f.GetString("lifetime")
	}

	if f.Changed("max-buffer-bytes") {
		cfg.Search.MaxBufferBytes, _ = f.GetInt64("max-buffer-bytes")
	}

	if f.Changed("log-level") {
		name, _ := f.GetString("log-level")

		level, err := logrus.ParseLevel(name)
		if err != nil {
			return cfg, fseekerr.New(fseekerr.CodeConfigError, "invalid log level", fseekerr.WithError(err))
		}

		cfg.Search.LogLevel = level
	}

	if f.Changed("interrupt") {
		cfg.Interrupt.Mode, _ = f.GetString("interrupt")
	}

	if f.Changed("signal") {
		cfg.Interrupt.Signal, _ = f.GetString("signal")
	}

	if f.Changed("target") {
		cfg.Interrupt.Target, _ = f.GetInt("target")
	}

	if err := config.ValidateSearchConfig(cfg.Search); err != nil {
		return cfg, err
	}

	if err := config.ValidateInterruptConfig(cfg.Interrupt, cfg.Search.Workers); err != nil {
		return cfg, err
	}

	if err := checkInterruptNames(cfg.Interrupt); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// checkInterruptNames rejects unknown interrupt modes and signals before
// anything is opened.
func checkInterruptNames(cfg config.InterruptConfig) error {
	mode, err := interrupt.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	if mode == interrupt.None || mode == interrupt.WorkerFault {
		return nil
	}

	_, _, err = interrupt.ParseSignal(cfg.Signal)

	return err
}

func runSearch(cmd *cobra.Command, cfg config.AppConfig) error {
	src, err := os.Open(cfg.Search.Source)
	if err != nil {
		return fseekerr.New(fseekerr.CodeSourceError, "failed to open source",
			fseekerr.WithError(err), fseekerr.WithDetails(fseekerr.Details{"source": cfg.Search.Source}))
	}

	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("Failed to close source")
		}
	}()

	bus := events.New()

	detach, err := search.NewReporter(log, cmd.OutOrStdout()).Attach(bus)
	if err != nil {
		return fseekerr.New(fseekerr.CodeInternalError, "failed to attach reporter", fseekerr.WithError(err))
	}
	defer detach()

	runCtx, stop := context.WithCancelCause(cmd.Context())
	defer stop(nil)

	inj, err := interrupt.NewInjector(log, cfg.Interrupt, bus, stop)
	if err != nil {
		return err
	}
	defer inj.Close()

	ctx, stopSignals := signal.NotifyContext(runCtx, gracefulSignals(inj)...)
	defer stopSignals()

	s, err := search.New(log, src, search.Options{
		Workers:         cfg.Search.Workers,
		RecordsPerChunk: cfg.Search.RecordsPerChunk,
		RecordSize:      cfg.Search.RecordSize,
		Query:           cfg.Search.Query,
		CancelMode:      search.CancelMode(cfg.Search.CancelMode),
		Lifetime:        search.Lifetime(cfg.Search.Lifetime),
	},
		search.WithBus(bus),
		search.WithAllocator(search.NewHeapAllocator(cfg.Search.MaxBufferBytes)),
		search.WithReleaseHook(inj.Inject),
	)
	if err != nil {
		return err
	}

	_, g := firsterr.WithContext(ctx)
	g.Go(inj.Listen)

	res, runErr := s.Run(ctx)

	g.Cancel()
	<-g.Done()

	if res != nil {
		log.WithFields(logrus.Fields{
			"runID":   res.RunID,
			"found":   res.Found,
			"records": res.Records(),
		}).Debug("Run summary")

		if !res.Found && runErr == nil {
			log.Info("No record contains the query")
		}
	}

	return runErr
}

// gracefulSignals lists the signals that stop a search early, leaving out the
// one the injector raises at the process itself.
func gracefulSignals(inj *interrupt.Injector) []os.Signal {
	sigs := []os.Signal{os.Interrupt, syscall.SIGTERM}

	if inj.Mode().TargetsProcess() {
		sigs = slices.DeleteFunc(sigs, func(s os.Signal) bool { return s == inj.Signal() })
	}

	return sigs
}

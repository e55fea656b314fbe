package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jnesss/errsnoop/addr2line"
	"github.com/jnesss/errsnoop/config"
	"github.com/jnesss/errsnoop/database"
	"github.com/jnesss/errsnoop/ksyms"
	"github.com/jnesss/errsnoop/metrics"
	"github.com/jnesss/errsnoop/stack"
	"github.com/jnesss/errsnoop/web"
)

const defaultDBPath = "data/errsnoop.db"

// flagValues holds raw flag values before they are merged into the config.
type flagValues struct {
	configPath  string
	verbose     int
	symbolize   int
	vmlinux     string
	object      string
	presets     []string
	entry       []string
	allow       []string
	deny        []string
	dbPath      string
	listenAddr  string
	pollTimeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	fv := &flagValues{}

	cmd := &cobra.Command{
		Use:   "errsnoop",
		Short: "Show kernel call stacks that end in an error",
		Long: "errsnoop traces kernel functions selected by globs and prints the call stack\n" +
			"every time a traced call chain returns an error.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg, fv)
			return runTrace(cfg)
		},
	}

	bindFlags(cmd.Flags(), fv)
	cmd.AddCommand(newHistoryCommand())
	return cmd
}

func bindFlags(fs *pflag.FlagSet, fv *flagValues) {
	fs.StringVarP(&fv.configPath, "config", "c", "", "YAML config file")
	fs.CountVarP(&fv.verbose, "verbose", "v", "Verbose output (use -vv for debug-level verbosity, -vvv for trace)")
	fs.CountVarP(&fv.symbolize, "symbolize", "s", "Extra symbolization (-s gives line numbers, -ss gives also inline symbols), needs vmlinux with DWARF")
	fs.StringVarP(&fv.vmlinux, "kernel", "k", "", "Path to vmlinux image with DWARF information embedded")
	fs.StringVarP(&fv.object, "bpf-object", "o", "", "Path to the compiled BPF object")
	fs.StringArrayVarP(&fv.presets, "preset", "p", nil, fmt.Sprintf("Use a pre-defined set of entry/allow/deny globs (supported presets: %v)", config.PresetNames()))
	fs.StringArrayVarP(&fv.entry, "entry", "e", nil, "Glob for entry functions that trigger error stack trace collection")
	fs.StringArrayVarP(&fv.allow, "allow", "a", nil, "Glob for allowed functions captured in error stack trace collection")
	fs.StringArrayVarP(&fv.deny, "deny", "d", nil, "Glob for denied functions ignored during error stack trace collection")
	fs.StringVar(&fv.dbPath, "db", "", fmt.Sprintf("Record reported stacks into this sqlite database (e.g. %s, read back with 'errsnoop history')", defaultDBPath))
	fs.StringVar(&fv.listenAddr, "listen", "", "Serve recorded stacks and metrics on this address")
	fs.DurationVar(&fv.pollTimeout, "poll-timeout", 0, "Ring buffer poll timeout")
}

// applyFlags overrides config values with the flags set on the command line.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, fv *flagValues) {
	if fs.Changed("verbose") {
		cfg.Verbose = fv.verbose
	}
	if fs.Changed("symbolize") {
		cfg.Symbolize = fv.symbolize
	}
	if fs.Changed("kernel") {
		cfg.VmlinuxPath = fv.vmlinux
	}
	if fs.Changed("bpf-object") {
		cfg.ObjectPath = fv.object
	}
	// globs accumulate on top of the config file
	cfg.Presets = append(cfg.Presets, fv.presets...)
	cfg.Entry = append(cfg.Entry, fv.entry...)
	cfg.Allow = append(cfg.Allow, fv.allow...)
	cfg.Deny = append(cfg.Deny, fv.deny...)
	if fs.Changed("db") {
		cfg.DBPath = fv.dbPath
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = fv.listenAddr
	}
	if fs.Changed("poll-timeout") {
		cfg.PollTimeout = fv.pollTimeout
	}
}

func newLogger(verbose int) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	switch {
	case verbose >= 3:
		logger.SetLevel(logrus.TraceLevel)
	case verbose == 2:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func runTrace(cfg *config.Config) error {
	logger := newLogger(cfg.Verbose)
	log := logger.WithField("component", "errsnoop")

	if err := cfg.Validate(); err != nil {
		log.Error(err)
		return err
	}
	if err := requireRoot(); err != nil {
		log.Error(err)
		return err
	}

	syms, err := ksyms.Load()
	if err != nil {
		log.Errorf("Failed to load /proc/kallsyms for symbolization: %v", err)
		return err
	}
	log.Debugf("Loaded %d kernel symbols", syms.Len())

	// Keep interface values nil unless the collaborator exists.
	var symbolizer stack.Symbolizer
	var closers []func() error

	if cfg.SymbolizeLines() {
		symb, err := openSymbolizer(cfg, syms, log)
		if err != nil {
			log.Error(err)
			return err
		}
		symbolizer = symb
		closers = append(closers, symb.Close)
	}

	m := metrics.New()
	recorder := &historyRecorder{metrics: m}

	var db *database.DB
	if cfg.DBPath != "" {
		db, err = database.NewDB(cfg.DBPath)
		if err != nil {
			log.Errorf("Failed to initialize database: %v", err)
			return err
		}
		recorder.db = db
		closers = append(closers, db.Close)

		if err := chownToOriginalUser(cfg.DBPath, cfg.DBPath+"-wal", cfg.DBPath+"-shm"); err != nil {
			log.Warnf("Database stays owned by root: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ListenAddr != "" {
		var store web.StackStore
		if db != nil {
			store = db
		}
		srv := web.NewServer(store, m.Handler(), cfg.ListenAddr, logger.WithField("component", "web"))
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Errorf("Web server error: %v", err)
			}
		}()
	}

	reader, funcs, cleanup, err := InitBPF(cfg, syms, log)
	if err != nil {
		log.Errorf("Failed to initialize BPF: %v", err)
		closeAll(closers, log)
		return err
	}
	closers = append([]func() error{cleanup}, closers...)

	handler := stack.NewHandler(funcs, syms, symbolizer, cfg.Options(), os.Stdout, recorder, logger.WithField("component", "stack"))
	loop := &eventLoop{handler: handler, metrics: m, log: log}

	fmt.Println("Receiving data...")
	err = pollRecords(ctx, reader, cfg.PollTimeout, loop.handleSample)
	if err != nil {
		log.Error(err)
	}

	fmt.Println("Detaching, be patient...")
	closeAll(closers, log)
	return err
}

func openSymbolizer(cfg *config.Config, syms *ksyms.Table, log *logrus.Entry) (*addr2line.Symbolizer, error) {
	path := cfg.VmlinuxPath
	if path == "" {
		release, err := config.KernelRelease()
		if err != nil {
			return nil, err
		}
		if path, err = config.FindVmlinux(release); err != nil {
			return nil, err
		}
		if cfg.Verbose > 0 {
			log.Infof("Using vmlinux image at %s.", path)
		}
	}

	symb, err := addr2line.Open(path, cfg.SymbolizeInlines(), cfg.SymbolCacheSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start symbolizer for vmlinux image at %s", path)
	}
	if stext, ok := syms.Lookup("_stext"); ok {
		symb.SetRuntimeText(stext.Addr)
	}
	return symb, nil
}

func closeAll(closers []func() error, log *logrus.Entry) {
	var result *multierror.Error
	for _, c := range closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Warnf("Teardown: %v", err)
	}
}

// eventLoop routes decoded records through the stack handler.
type eventLoop struct {
	handler *stack.Handler
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func (l *eventLoop) handleSample(data []byte) {
	reported, err := l.handler.HandleSample(data)
	switch {
	case err != nil:
		l.metrics.Observe(metrics.OutcomeFault)
		l.log.Errorf("Failed to process call stack, skipping it: %v", err)
	case !reported:
		l.metrics.Observe(metrics.OutcomeSkipped)
	default:
		l.metrics.Observe(metrics.OutcomeReported)
	}
}

// historyRecorder tracks stack depth and stores reports when a database is
// configured.
type historyRecorder struct {
	db      *database.DB
	metrics *metrics.Metrics
}

func (r *historyRecorder) InsertErrorStack(rep *stack.Report) error {
	r.metrics.StackDepth.Observe(float64(rep.Depth))
	if r.db == nil {
		return nil
	}
	return r.db.InsertErrorStack(rep)
}

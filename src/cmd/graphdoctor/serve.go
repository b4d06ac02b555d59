package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"graphdoctor/src/broker"
	"graphdoctor/src/capture"
	"graphdoctor/src/compose"
	"graphdoctor/src/config"
	"graphdoctor/src/contracts"
	"graphdoctor/src/dispatch"
	"graphdoctor/src/envinfo"
	"graphdoctor/src/history"
	"graphdoctor/src/logger"
	"graphdoctor/src/mcp"
	"graphdoctor/src/metrics"
	"graphdoctor/src/patterns"
	"graphdoctor/src/pipeline"
	"graphdoctor/src/runlog"
	"graphdoctor/src/sanitize"
	"graphdoctor/src/server"
	"graphdoctor/src/service"
)

// stack is the wired application: everything behind the HTTP and MCP
// surfaces.
type stack struct {
	cfg      *config.Config
	log      logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	classifier *patterns.Classifier
	watcher    *patterns.Watcher // nil when no pattern file configured
	queue      *capture.Queue
	sink       *capture.Sink
	ring       *history.Ring
	archive    *history.Archive // nil when no DSN configured
	events     *broker.Events
	pipe       *pipeline.Pipeline
	svc        *service.Service
}

// buildStack wires the full diagnosis pipeline from cfg.
func buildStack(cfg *config.Config, log logger.Logger) (*stack, error) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	reg := patterns.DefaultRegistry()
	if cfg.PatternFile != "" {
		fileReg, err := patterns.LoadFile(cfg.PatternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		reg = fileReg
	}
	classifier := patterns.NewClassifier(reg)

	var watcher *patterns.Watcher
	if cfg.PatternFile != "" {
		w, err := patterns.NewWatcher(cfg.PatternFile, classifier, log)
		if err != nil {
			return nil, fmt.Errorf("watching pattern file: %w", err)
		}
		watcher = w
	}

	queue := capture.NewQueue(cfg.QueueCapacity)
	assembler := capture.NewAssembler(time.Duration(cfg.TracebackTimeoutS)*time.Second, cfg.BufferLimit)
	sink := capture.NewSink(assembler, queue, m, log)

	ring := history.NewRing(cfg.HistorySize)
	var archive *history.Archive
	if cfg.ArchiveDSN != "" {
		a, err := history.NewArchive(cfg.ArchiveDSN)
		if err != nil {
			return nil, fmt.Errorf("opening history archive: %w", err)
		}
		archive = a
	}

	var emitter broker.Emitter
	if len(cfg.EventBrokers) > 0 {
		e, err := broker.NewKafkaEmitter(cfg.EventBrokers)
		if err != nil {
			return nil, fmt.Errorf("connecting event brokers: %w", err)
		}
		emitter = e
	} else {
		emitter = broker.NewInMemoryEmitter()
	}
	events := broker.NewEvents(emitter, log)

	var archiver pipeline.Archiver
	if archive != nil {
		archiver = archive
	}
	pipe := pipeline.New(queue, classifier, ring, archiver, events, m, log, cfg.Language)

	var dispatcher *dispatch.Dispatcher
	if cfg.ProviderBaseURL != "" {
		d, err := dispatch.New(cfg, log, m)
		if err != nil {
			return nil, fmt.Errorf("configuring dispatcher: %w", err)
		}
		dispatcher = d
	}

	env, err := envinfo.Collect(Version, "")
	if err != nil {
		return nil, fmt.Errorf("collecting environment: %w", err)
	}
	composer := compose.New(env)

	profile := compose.RemoteProfile(cfg.MaxPackages)
	if cfg.EndpointIsLocal {
		profile = compose.LocalProfile(cfg.MaxPackages)
	}
	mode := sanitize.ParseMode(cfg.PrivacyMode)

	var svcArchive service.Archive
	if archive != nil {
		svcArchive = archive
	}
	svc := service.New(ring, svcArchive, pipe, dispatcher, composer, classifier, queue, m, log,
		mode, cfg.Language, profile)

	return &stack{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		metrics:    m,
		classifier: classifier,
		watcher:    watcher,
		queue:      queue,
		sink:       sink,
		ring:       ring,
		archive:    archive,
		events:     events,
		pipe:       pipe,
		svc:        svc,
	}, nil
}

func (s *stack) close() {
	if s.archive != nil {
		s.archive.Close()
	}
	s.events.Close()
}

// runServe runs the capture pipeline and HTTP API until interrupted. Console
// lines come from stdin; a process supervisor pipes the host's output here.
func runServe(cfg *config.Config, debug bool) error {
	log, err := logger.NewZapLogger(debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := buildStack(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var run *runlog.Writer
	if cfg.RunLogDir != "" {
		run, err = runlog.Open(cfg.RunLogDir, cfg.MaxRunLogs)
		if err != nil {
			return err
		}
		defer run.Close()
	}

	httpSrv := server.New(st.svc, st.registry, log, cfg.ListenAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.pipe.Run(ctx) })
	g.Go(func() error { return st.sink.Run(ctx) })
	g.Go(func() error { return httpSrv.Run(ctx) })
	if st.watcher != nil {
		g.Go(func() error { return st.watcher.Run(ctx) })
	}
	g.Go(func() error { return readConsole(ctx, st.sink, run) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readConsole feeds stdin lines into the capture sink, mirroring them to the
// run log when one is open. EOF is not an error: the host closing its output
// just ends capture while the API keeps serving.
func readConsole(ctx context.Context, sink *capture.Sink, run *runlog.Writer) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		sink.Write(contracts.StreamStderr, line)
		if run != nil {
			if err := run.Write(line); err != nil {
				return fmt.Errorf("writing run log: %w", err)
			}
		}
	}
	return scanner.Err()
}

// runMCP serves the MCP tools on stdio. Logging is silent: stdout belongs to
// the protocol.
func runMCP(cfg *config.Config) error {
	log := logger.NewSilentLogger()

	st, err := buildStack(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// The pattern watcher still hot-reloads while the MCP server runs.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if st.watcher != nil {
		go st.watcher.Run(ctx)
	}
	go st.pipe.Run(ctx)

	return mcp.NewServer(st.svc, Version).Run()
}

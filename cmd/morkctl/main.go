// Command morkctl drives a MORK server from the command line.
//
// Usage:
//
//	morkctl [flags] <command> [args]
//
// Commands:
//
//	status                       check the server answers for the namespace
//	upload [facts...|-]          upload facts (stdin with "-" or no args)
//	download                     print every fact in the namespace
//	transform <pat> <tmpl>...    rewrite facts, pattern/template pairs
//	exec <thread>                run an execution thread, printing steps
//	explore                      print the stored structure level by level
//	import <uri> | export <uri>  transfer facts
//	clear                        delete the namespace's facts
//	stop                         stop the server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/config"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/morkclient/mork"
	"github.com/GriffinCanCode/morkclient/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "morkctl:", err)
		stop()
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

type cli struct {
	configPath  string
	url         string
	namespace   string
	autoClear   bool
	listen      bool
	history     bool
	metricsAddr string
	logLevel    string
	dev         bool
	streamMode  string
}

func parseFlags(args []string, stderr io.Writer) (*cli, *flag.FlagSet, error) {
	var c cli
	fs := flag.NewFlagSet("morkctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.url, "url", "", "server URL (overrides MORK_URL)")
	fs.StringVar(&c.namespace, "ns", "", "namespace path, e.g. a/b")
	fs.BoolVar(&c.autoClear, "clear", false, "clear the namespace when done")
	fs.BoolVar(&c.listen, "listen", false, "wait on the status stream instead of racing it with polling")
	fs.BoolVar(&c.history, "history", false, "print the session history when done")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&c.dev, "dev", false, "development logging")
	fs.StringVar(&c.streamMode, "stream", "", "status stream mode: sse, websocket or poll")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: morkctl [flags] <command> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return &c, fs, nil
}

func (c *cli) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if c.url != "" {
		cfg.Server.URL = c.url
	}
	if c.namespace != "" {
		cfg.Server.Namespace = c.namespace
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.dev {
		cfg.Logging.Development = true
	}
	if c.streamMode != "" {
		cfg.Transport.StreamMode = c.streamMode
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	c, fs, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := monitoring.NewMetrics()
	if cfg.Metrics.Addr != "" {
		metrics.RegisterRuntime()
		shutdown := serveMetrics(cfg.Metrics.Addr, metrics, logger)
		defer shutdown()
	}

	root, err := mork.Dial(ctx, cfg, mork.WithLogger(logger), mork.WithMetrics(metrics))
	if err != nil {
		return err
	}

	scope := root.Scope()
	if c.autoClear {
		scope = root.AndClear()
	}
	return mork.With(ctx, scope, func(s *mork.Session) error {
		err := execute(ctx, s, fs.Arg(0), fs.Args()[1:], c.listen, stdin, stdout)
		if c.history {
			for _, req := range s.History() {
				fmt.Fprintln(stdout, req)
			}
		}
		return err
	})
}

func serveMetrics(addr string, metrics *monitoring.Metrics, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func execute(ctx context.Context, s *mork.Session, cmd string, args []string, listen bool, stdin io.Reader, w io.Writer) error {
	var (
		req *mork.Request
		err error
	)

	switch cmd {
	case "status":
		req, err = s.Status(ctx)
	case "upload":
		facts := strings.Join(args, "\n")
		if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
			data, readErr := io.ReadAll(stdin)
			if readErr != nil {
				return readErr
			}
			facts = string(data)
		}
		req, err = s.Upload(ctx, facts)
	case "download":
		req, err = s.Download(ctx)
		if err != nil {
			return err
		}
		for _, fact := range req.Result().Facts() {
			fmt.Fprintln(w, fact)
		}
		return nil
	case "transform":
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("%w: transform takes pattern/template pairs", errUsage)
		}
		var patterns, templates []string
		for i := 0; i < len(args); i += 2 {
			patterns = append(patterns, args[i])
			templates = append(templates, args[i+1])
		}
		req, err = s.Transform(ctx, patterns, templates)
	case "exec":
		if len(args) != 1 {
			return fmt.Errorf("%w: exec takes one thread id", errUsage)
		}
		req, err = s.Exec(ctx, args[0])
		listen = true
	case "explore":
		return explore(ctx, s, w)
	case "import", "export":
		if len(args) != 1 {
			return fmt.Errorf("%w: %s takes one uri", errUsage, cmd)
		}
		if cmd == "import" {
			req, err = s.ImportFrom(ctx, args[0])
		} else {
			req, err = s.ExportTo(ctx, args[0])
		}
	case "clear":
		req, err = s.Clear(ctx)
	case "stop":
		req, err = s.Stop(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if err != nil {
		return err
	}
	return await(ctx, req, listen, w)
}

func await(ctx context.Context, req *mork.Request, listen bool, w io.Writer) error {
	var (
		res protocol.Result
		err error
	)
	if listen {
		res, err = req.Listen(ctx, mork.OnEvent(func(ev protocol.Event) {
			if ev.Progress != nil {
				fmt.Fprintf(w, "step %d/%d %s\n", ev.Progress.Step, ev.Progress.Total, ev.Progress.Message)
			}
		}))
	} else {
		res, err = req.Wait(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, req)
	if res.Data != "" {
		fmt.Fprintln(w, res.Data)
	}
	return nil
}

func explore(ctx context.Context, s *mork.Session, w io.Writer) error {
	for level, err := range s.Explore().Levels(ctx) {
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "level %d\n", level.Depth())
		for _, values := range level.Values() {
			fmt.Fprintf(w, "  %s\n", strings.Join(values, " "))
		}
		if err := level.DispatchAll(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

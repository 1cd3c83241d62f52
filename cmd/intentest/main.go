package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/intentest/internal/backend"
	"github.com/codefionn/intentest/internal/config"
	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/codefionn/intentest/internal/testerclient"
)

var errUnknownCommand = errors.New("unknown command")

// app carries what every subcommand needs
type app struct {
	cfg     *config.Config
	cfgPath string
	stdout  io.Writer
	stderr  io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: intentest [options] <command> [arguments]\n\n")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  query [--args file | json]       Run a session with raw query arguments")
	fmt.Fprintln(w, "  generate --method name <file>    Generate a test for a method of a source file")
	fmt.Fprintln(w, "  junit-version <version>          Set the JUnit version used by the service")
	fmt.Fprintln(w, "  methods <file>                   List the methods of a source file")
	fmt.Fprintln(w, "  replay <transcript>              Serve a recorded session as a fake service")
	fmt.Fprintln(w, "  watch                            Push junit_version whenever the config changes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	fs := flag.NewFlagSet("intentest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  string
		logLevel    string
		port        int
		showVersion bool
	)
	fs.StringVar(&configPath, "config", config.GetConfigPath(), "Path to the config file")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.IntVar(&port, "port", -1, "Tester service port; 0 launches the configured backend")
	fs.BoolVar(&showVersion, "version", false, "Print the version and exit")
	fs.Usage = func() { usage(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "intentest %s\n", consts.Version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if port >= 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logPath := cfg.LogPath
	if logPath == "" {
		logPath = config.DefaultLogPath()
	}
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), logPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("intentest %s starting, config %s", consts.Version, configPath)

	a := &app{cfg: cfg, cfgPath: configPath, stdout: stdout, stderr: stderr}
	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "query":
		return a.runQuery(ctx, rest)
	case "generate":
		return a.runGenerate(ctx, rest)
	case "junit-version":
		return a.runJUnitVersion(ctx, rest)
	case "methods":
		return a.runMethods(rest)
	case "replay":
		return a.runReplay(ctx, rest)
	case "watch":
		return a.runWatch(ctx, rest)
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, command)
	}
}

// clientConfig maps the file configuration onto the protocol client.
func (a *app) clientConfig(port int) *testerclient.Config {
	cc := testerclient.DefaultConfig()
	cc.Host = a.cfg.Host
	cc.Port = port
	cc.ConnectTimeout = a.cfg.ConnectTimeoutDuration()
	cc.RequestTimeout = a.cfg.RequestTimeoutDuration()
	cc.IdleTimeout = a.cfg.IdleTimeoutDuration()
	return cc
}

// connect returns a client for the configured service, launching the backend
// first when the port is 0. The returned function releases both.
func (a *app) connect(ctx context.Context) (*testerclient.Client, func(), error) {
	port := a.cfg.Port
	stopBackend := func() {}

	if port == 0 {
		proc, err := backend.Launch(ctx, backend.Options{
			Command:        a.cfg.Backend.Command,
			WorkingDir:     a.cfg.Backend.WorkingDir,
			Env:            a.cfg.Backend.Env,
			StartupTimeout: a.cfg.Backend.StartupTimeout(),
			PidPath:        config.DefaultPidPath(),
			Stderr:         a.stderr,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch backend: %w", err)
		}
		port = proc.Port()
		stopBackend = func() {
			if err := proc.Stop(); err != nil {
				logger.Warn("failed to stop backend: %v", err)
			}
		}
	}

	client, err := testerclient.NewClientWithConfig(a.clientConfig(port))
	if err != nil {
		stopBackend()
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		stopBackend()
	}, nil
}

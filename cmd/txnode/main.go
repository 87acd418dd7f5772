// Command txnode runs a transaction node: JSON-RPC over HTTP and WebSocket
// plus the optional event receivers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/drblury/txnode/internal/node"
	configpkg "github.com/drblury/txnode/internal/runtime/config"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	_ "github.com/drblury/txnode/transport/transports"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "txnode: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	configDir  string
	profile    string
	httpAddr   string
	wsAddr     string
	dataDir    string
	logLevel   string
	logFormat  string
	check      bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("txnode", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file (overrides --profile)")
	fs.StringVar(&f.configDir, "config-dir", "res", "Directory holding the profile config files")
	fs.StringVarP(&f.profile, "profile", "p", string(configpkg.KindDev), "Config profile: test | dev | main")
	fs.StringVar(&f.httpAddr, "http-addr", "", "HTTP JSON-RPC listen address (host:port)")
	fs.StringVar(&f.wsAddr, "ws-addr", "", "WebSocket listen address (host:port, port 0 disables)")
	fs.StringVar(&f.dataDir, "data-dir", "", "LevelDB directory (empty keeps state in memory)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug | info | warn | error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text | json")
	fs.BoolVar(&f.check, "check", false, "Validate the configuration, print it and exit")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// loadConfig applies defaults, then the file, then TXNODE_* variables, then
// flags.
func loadConfig(f flags) (configpkg.Config, error) {
	kind, err := configpkg.ParseKind(f.profile)
	if err != nil {
		return configpkg.Config{}, err
	}

	var cfg configpkg.Config
	switch {
	case f.configPath != "":
		cfg, err = configpkg.Load(f.configPath)
		if err != nil {
			return cfg, err
		}
	default:
		path := filepath.Join(f.configDir, kind.FileName())
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg = configpkg.Default()
			cfg.Profile = kind
			break
		}
		cfg, err = configpkg.LoadProfile(kind, f.configDir)
		if err != nil {
			return cfg, err
		}
	}

	if err := configpkg.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	if f.httpAddr != "" {
		if cfg.HTTPServer, err = parseAddr(f.httpAddr); err != nil {
			return cfg, fmt.Errorf("--http-addr: %w", err)
		}
	}
	if f.wsAddr != "" {
		if cfg.WSServer, err = parseAddr(f.wsAddr); err != nil {
			return cfg, fmt.Errorf("--ws-addr: %w", err)
		}
	}
	if f.dataDir != "" {
		cfg.Storage.DataDir = f.dataDir
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

func parseAddr(addr string) (configpkg.ServerConfig, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return configpkg.ServerConfig{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return configpkg.ServerConfig{}, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return configpkg.ServerConfig{IP: host, Port: port}, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.version {
		fmt.Fprintf(stdout, "txnode %s\n", version)
		return nil
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if f.check {
		fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	logger, err := loggingpkg.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}

	n, err := node.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := n.Run(ctx)
	return errors.Join(runErr, n.Close())
}

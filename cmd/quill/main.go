package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pthm/quill"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "routes":
		if err := runRoutes(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("quill version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`quill - server-rendered reactive UI for Go

Usage:
  quill <command> [arguments]

Commands:
  serve     Serve the demo application
  routes    List the demo application's routes
  config    Print the effective configuration as YAML
  version   Print version
  help      Show this help

Options:
  --config <file>   Load settings from a YAML file
  --host <host>     Listen host (overrides config and QUILL_HOST)
  --port <port>     Listen port (overrides config and QUILL_PORT)
  --metrics         Serve Prometheus metrics on /metrics

Examples:
  quill serve --port 8080
  quill config --config quill.yaml > effective.yaml`)
}

// options are the flags shared by every command.
type options struct {
	configPath string
	host       string
	port       int
	metrics    bool
}

func parseOptions(args []string) (options, error) {
	var o options
	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s needs a value", arg)
			}
			i++
			return args[i], nil
		}
		switch arg {
		case "--config":
			v, err := value()
			if err != nil {
				return o, err
			}
			o.configPath = v
		case "--host":
			v, err := value()
			if err != nil {
				return o, err
			}
			o.host = v
		case "--port":
			v, err := value()
			if err != nil {
				return o, err
			}
			port, err := strconv.Atoi(v)
			if err != nil {
				return o, fmt.Errorf("--port: %w", err)
			}
			o.port = port
		case "--metrics":
			o.metrics = true
		default:
			return o, fmt.Errorf("unknown argument: %s", arg)
		}
	}
	return o, nil
}

func loadConfig(args []string) (quill.Config, error) {
	o, err := parseOptions(args)
	if err != nil {
		return quill.Config{}, err
	}
	cfg, err := quill.LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.host != "" {
		cfg.Host = o.host
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.metrics {
		cfg.Metrics = true
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func runServe(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	app := quill.New(quill.WithConfig(cfg), quill.WithLogger(log))
	if err := registerDemo(app); err != nil {
		return err
	}
	return app.Start(cfg.Host, cfg.Port)
}

func runRoutes(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	app := quill.New(quill.WithConfig(cfg))
	if err := registerDemo(app); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tKIND\tPRIORITY")
	for _, r := range app.Routes() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", r.Decl, r.Kind, r.Priority)
	}
	return w.Flush()
}

func runConfig(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

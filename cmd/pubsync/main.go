// Command pubsync reads a publish log and syncs the files it names to object
// storage, rendering PDFs for TeX sources first.
//
//	pubsync [-config file] [-v] [-debug] [-d] publish_YYMMDD.log
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

const (
	exitOK          = 0
	exitDryRun      = 1
	exitSetup       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	configPath string
	verbose    bool
	debug      bool
	dryRun     bool
	logFile    string
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("pubsync", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Config file (default: ./config.toml when present)")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&opts.debug, "debug", false, "Debug logging")
	fs.BoolVar(&opts.dryRun, "d", false, "Dry run: print the planned actions and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: pubsync [flags] publish_log\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return opts, fmt.Errorf("expected one publish log, got %d arguments", fs.NArg())
	}

	opts.logFile = fs.Arg(0)
	return opts, nil
}

func newLogger(opts options) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case opts.debug:
		level = slog.LevelDebug
	case opts.verbose:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

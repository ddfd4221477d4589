package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kestrel/config"
	"github.com/chazu/kestrel/vm"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	traceColor = color.New(color.FgHiBlack)
	fileColor  = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen, color.Bold)
)

// loadConfig resolves kestrel.toml from --config or the working directory,
// applies --color and --verbose, and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	var cfg *config.Config
	if dir != "" {
		cfg, err = config.Load(dir)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	mode, err := cmd.Flags().GetString("color")
	if err != nil {
		return nil, fmt.Errorf("failed to get color flag: %w", err)
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
	default:
		return nil, fmt.Errorf("invalid --color %q (want auto, on or off)", mode)
	}

	verbose, err := cmd.Flags().GetCount("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	commonlog.Configure(cfg.Log.Verbosity+verbose, cfg.LogPath())
	return cfg, nil
}

// printError renders a guest traceback with colour, or a plain host error.
func printError(w io.Writer, err error) {
	var gerr *vm.Error
	if !errors.As(err, &gerr) {
		errorColor.Fprint(w, "error: ")
		fmt.Fprintln(w, err)
		return
	}
	if len(gerr.Trace) > 0 {
		traceColor.Fprintln(w, "Traceback (most recent call last):")
	}
	for _, te := range gerr.Trace {
		fmt.Fprint(w, "  File ")
		fileColor.Fprintf(w, "%q", te.Filename)
		fmt.Fprintf(w, ", line %d, in %s\n", te.Line, te.Name)
		if snippet := strings.TrimSpace(te.Snippet); snippet != "" {
			traceColor.Fprintf(w, "    %s\n", snippet)
		}
	}
	errorColor.Fprintln(w, gerr.Summary())
}

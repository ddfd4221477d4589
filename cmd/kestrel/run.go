package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/codefile"
)

var log = commonlog.GetLogger("kestrel.cli")

var runCmd = &cobra.Command{
	Use:   "run [flags] <file.kbc|file.kmp>",
	Short: "Execute a compiled code record",
	Long: `Load a code record and execute it as the __main__ module.

With --instances N the record runs concurrently on N independent engines;
their output is printed in instance order once all of them finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecution,
}

func init() {
	runCmd.Flags().Int("instances", 0, "number of independent engines (overrides engine.instances)")
	runCmd.Flags().Bool("gc-stats", false, "print collector statistics after the run")
}

func runExecution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	instances, err := cmd.Flags().GetInt("instances")
	if err != nil {
		return fmt.Errorf("failed to get instances flag: %w", err)
	}
	gcStats, err := cmd.Flags().GetBool("gc-stats")
	if err != nil {
		return fmt.Errorf("failed to get gc-stats flag: %w", err)
	}
	if instances > 0 {
		cfg.Engine.Instances = instances
		if instances > 1 {
			cfg.Arena.ThreadSafe = true
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	code, err := codefile.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := cfg.EngineOptions()
	if cfg.Engine.Instances == 1 {
		return runOne(ctx, code, opts, gcStats, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	outputs := make([]bytes.Buffer, cfg.Engine.Instances)
	g, gctx := errgroup.WithContext(ctx)
	for i := range outputs {
		g.Go(func() error {
			if err := runOne(gctx, code, opts, gcStats, &outputs[i], &outputs[i]); err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			return nil
		})
	}
	err = g.Wait()
	for i := range outputs {
		cmd.OutOrStdout().Write(outputs[i].Bytes())
	}
	return err
}

// runOne executes code on a fresh engine.
func runOne(ctx context.Context, code *vm.Code, opts vm.Options, gcStats bool, out, errOut io.Writer) error {
	opts.Output = out
	e := vm.New(opts)
	defer e.Close()
	log.Debugf("engine %s: running %s", e.ID(), code.Filename)

	_, err := e.ExecContext(ctx, code, vm.Null)
	if gcStats {
		e.Collect()
		if st := e.LastGCStats(); st != nil {
			fmt.Fprintf(errOut, "engine %s: %d collections, last freed %d of %d objects in %s\n",
				e.ID(), e.Collections(), st.Freed, st.Freed+st.Survivors, st.Duration)
		}
	}
	return err
}

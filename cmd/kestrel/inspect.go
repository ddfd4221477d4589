package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/codefile"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Validate code records without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		failed := 0
		for _, path := range args {
			code, err := codefile.ReadFile(path)
			if err != nil {
				printError(cmd.ErrOrStderr(), err)
				failed++
				continue
			}
			okColor.Fprint(cmd.OutOrStdout(), "ok ")
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d instructions, %d functions\n",
				path, countInstrs(code), countFuncs(code))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed validation", failed, len(args))
		}
		return nil
	},
}

var disCmd = &cobra.Command{
	Use:   "dis <file>",
	Short: "Disassemble a code record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		code, err := codefile.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), code.Disassemble())
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Re-encode a code record (format chosen by extension)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		code, err := codefile.ReadFile(args[0])
		if err != nil {
			return err
		}
		return codefile.WriteFile(args[1], code)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		okColor.Fprint(cmd.OutOrStdout(), "kestrel ")
		fmt.Fprintf(cmd.OutOrStdout(), "%s (code schema %d)\n", Version, codefile.SchemaVersion)
	},
}

func countInstrs(c *vm.Code) int {
	n := len(c.Instrs)
	for _, d := range c.FuncDecls {
		n += countInstrs(d.Code)
	}
	return n
}

func countFuncs(c *vm.Code) int {
	n := len(c.FuncDecls)
	for _, d := range c.FuncDecls {
		n += countFuncs(d.Code)
	}
	return n
}

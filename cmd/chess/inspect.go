package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-chess/abi"
	"github.com/wippyai/wasm-chess/engine"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE.wasm",
		Short: "List a module's exports and check it against the engine ABI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			eng, err := engine.NewWazeroEngine(ctx)
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			defer eng.Close(ctx)

			mod, err := eng.Compile(ctx, data)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Module: %s (%d bytes)\n", path, len(data))
			fmt.Fprintf(w, "Memories: %v\n", mod.ExportedMemories())
			fmt.Fprintf(w, "Imports WASI: %v\n", mod.ImportsWASI())

			funcs := mod.ExportedFunctions()
			names := make([]string, 0, len(funcs))
			for name := range funcs {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintf(w, "\nExported functions:\n")
			for _, name := range names {
				fmt.Fprintf(w, "  %s%s\n", name, funcs[name])
			}

			fmt.Fprintln(w)
			if err := abi.Verify(path, mod, abi.Required()); err != nil {
				fmt.Fprintf(w, "ABI: %v\n", err)
				return fmt.Errorf("%s does not implement the engine ABI", path)
			}
			fmt.Fprintln(w, "ABI: ok")
			return nil
		},
	}
}

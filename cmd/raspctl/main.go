package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var verr *matrix.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "raspctl",
		Short:        "Palisade RASP engine tooling",
		SilenceUsage: true,
	}

	root.AddCommand(newCheckCmd())
	root.AddCommand(newTokenizeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	var matrixPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an algorithm matrix file (JSON or YAML)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if matrixPath == "" {
				return errors.New("matrix path is required")
			}
			if _, _, err := matrix.Load(matrixPath); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "matrix ok")
			return err
		},
	}

	cmd.Flags().StringVarP(&matrixPath, "matrix", "m", "", "Path to matrix file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade-rasp/internal/sqltoken"
)

func newTokenizeCmd() *cobra.Command {
	var dialect string

	cmd := &cobra.Command{
		Use:   "tokenize [sql]",
		Short: "Print the tokens the SQL detectors see for a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
				return errors.New("a query is required")
			}
			for i, tok := range sqltoken.Tokenize(args[0], dialect) {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i, tok); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dialect, "dialect", "d", "mysql", "SQL dialect: mysql|pgsql|oracle|mssql|sqlite")

	return cmd
}

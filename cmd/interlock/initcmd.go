package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/interlock/internal/auth"
	"github.com/mistakeknot/interlock/internal/cli"
)

func newInitCmd() *cobra.Command {
	var keysFile string

	cmd := &cobra.Command{
		Use:   "init <project>",
		Short: "Generate an API key for a project",
		Long: "Creates or extends the keys file with a fresh API key scoped to the\n" +
			"given project slug. Prints the key once; it is not recoverable later.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := keysFile
			if path == "" {
				path = auth.ResolveKeysPath()
			}
			key, err := cli.InitKeysFile(path, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project: %s\nkeys file: %s\napi key: %s\n", args[0], path, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&keysFile, "keys-file", "", "keys file to create or extend")
	return cmd
}

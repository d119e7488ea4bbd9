package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"studyhub/internal/app"
)

type bootstrapFunc func(ctx context.Context, cfgPath string) (*app.App, error)

// cli carries state shared by the subcommands; app is opened before any of them runs.
type cli struct {
	open       bootstrapFunc
	configFile string
	app        *app.App
}

// run executes one admin command line and releases whatever it opened.
func run(ctx context.Context, open bootstrapFunc, args []string, stdout, stderr io.Writer) error {
	c := &cli{open: open}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tasks for studyhub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), c.configFile)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", os.Getenv("STUDYHUB_CONFIG"), "path to config.json")

	root.AddCommand(c.personaTokenCmd())
	root.AddCommand(c.cleanupAttachmentsCmd())
	root.AddCommand(c.addUserCmd())
	return root
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

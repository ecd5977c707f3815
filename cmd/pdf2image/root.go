package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf2image",
		Short: "Render PDF documents into images over HTTP",
		Long: `pdf2image accepts PDF uploads, rasterizes them and stores the page
images in a scratch directory.

Configuration is read from the YAML file named by CONFIG_PATH
(default config.yaml). A .env file in the working directory is loaded first.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConvertCmd())

	return cmd
}

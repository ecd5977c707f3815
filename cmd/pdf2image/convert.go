package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdf2image/internal/convert"
	u "pdf2image/internal/utils"
)

func newConvertCmd() *cobra.Command {
	var (
		page   int
		format string
		dpi    int
	)

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a local PDF into images in the scratch directory",
		Example: `  # Every page as PNG at 300 dpi
  pdf2image convert report.pdf

  # Only page 2 as JPEG at 150 dpi
  pdf2image convert report.pdf --page 2 --format jpeg --dpi 150`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := u.LoadConfig()
			initLogging(cfg)

			if !cmd.Flags().Changed("format") {
				format = cfg.Convert.DefaultFormat
			}
			if !cmd.Flags().Changed("dpi") {
				dpi = cfg.Convert.DefaultDPI
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			conv, cleanup, err := newConverter(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := conv.Convert(ctx, convert.Request{
				Document: data,
				Page:     page,
				Format:   format,
				DPI:      dpi,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", convert.KindOf(err), err)
			}

			for _, p := range res.Paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 0, "Single page to render (1-based); all pages when omitted")
	cmd.Flags().StringVarP(&format, "format", "f", "png", "Output image format (png, jpeg, jpg, gif, tiff, bmp)")
	cmd.Flags().IntVar(&dpi, "dpi", 300, "Output resolution in dots per inch")

	return cmd
}

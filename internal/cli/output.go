package cli

import (
	"github.com/spf13/cobra"

	"composer-repos/internal/app"
)

type reportOptions struct {
	Path   string
	Format string
}

func addReportFlags(cmd *cobra.Command, opts *reportOptions) {
	cmd.Flags().StringVar(&opts.Path, "report", "", "Write the result to this file instead of printing it (- for stdout)")
	cmd.Flags().StringVar(&opts.Format, "report-format", "yaml", "Report format (yaml or json)")
}

// emit writes value through the report writer when --report is set and
// falls back to the human readable printer otherwise.
func emit(service app.Service, opts reportOptions, value any, print func()) error {
	if opts.Path != "" {
		return service.WriteReport(opts.Path, opts.Format, value)
	}
	print()
	return nil
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type platformOptions struct {
	Report reportOptions
}

func newPlatformCommand() *cobra.Command {
	opts := platformOptions{}
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "List the platform packages of the current PHP runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlatform(cmd, opts)
		},
	}
	addReportFlags(cmd, &opts.Report)
	return cmd
}

func runPlatform(cmd *cobra.Command, opts platformOptions) error {
	service, err := newAppService(cmd)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.Platform(cmd.Context())
	if err != nil {
		return err
	}
	return emit(service, opts.Report, result, func() {
		for _, pkg := range result.Packages {
			fmt.Printf("%-28s %-16s %s\n", pkg.Name, pkg.Version, pkg.Description)
		}
		if len(result.Disabled) > 0 {
			fmt.Printf("disabled: %s\n", strings.Join(result.Disabled, ", "))
		}
	})
}

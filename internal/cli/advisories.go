package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"composer-repos/internal/app"
)

type advisoriesOptions struct {
	IgnoreUnreachable bool
	Report            reportOptions
}

func newAdvisoriesCommand() *cobra.Command {
	opts := advisoriesOptions{}
	cmd := &cobra.Command{
		Use:   "advisories <name[:constraint]>...",
		Short: "List security advisories affecting packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvisories(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.IgnoreUnreachable, "ignore-unreachable", false, "Skip repositories whose advisory API cannot be reached")
	addReportFlags(cmd, &opts.Report)

	_ = viper.BindPFlag("audit_ignore_unreachable", cmd.Flags().Lookup("ignore-unreachable"))
	return cmd
}

func runAdvisories(cmd *cobra.Command, args []string, opts advisoriesOptions) error {
	service, err := newAppService(cmd)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.Advisories(cmd.Context(), app.AdvisoriesRequest{
		Packages:          args,
		IgnoreUnreachable: resolveBool(cmd, opts.IgnoreUnreachable, "audit_ignore_unreachable", "ignore-unreachable"),
	})
	if err != nil {
		return err
	}
	return emit(service, opts.Report, result, func() {
		if len(result.Advisories) == 0 {
			fmt.Println("no security advisories found")
		}
		for _, advisory := range result.Advisories {
			fmt.Printf("%s %s (%s)\n", advisory.Package, advisory.ID, advisory.Affected)
			if advisory.Title != "" {
				fmt.Printf("  %s\n", advisory.Title)
			}
			if advisory.CVE != "" {
				fmt.Printf("  cve: %s\n", advisory.CVE)
			}
			if advisory.Severity != "" {
				fmt.Printf("  severity: %s\n", advisory.Severity)
			}
			if advisory.Link != "" {
				fmt.Printf("  %s\n", advisory.Link)
			}
		}
		for _, repo := range result.UnreachableRepos {
			fmt.Printf("unreachable: %s\n", repo)
		}
	})
}

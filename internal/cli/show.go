package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"composer-repos/internal/app"
	"composer-repos/internal/shared"
)

type showOptions struct {
	AllStabilities bool
	Shadowed       bool
	Pool           bool
	Report         reportOptions
}

func newShowCommand() *cobra.Command {
	opts := showOptions{}
	cmd := &cobra.Command{
		Use:   "show <name> [constraint]",
		Short: "Show the versions of a package the configured repositories offer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.AllStabilities, "all-stabilities", false, "Include versions below the minimum stability")
	cmd.Flags().BoolVar(&opts.Shadowed, "shadowed", false, "Include versions shadowed by a higher priority repository")
	cmd.Flags().BoolVar(&opts.Pool, "pool", false, "Load the package through a solver pool")
	addReportFlags(cmd, &opts.Report)

	_ = viper.BindPFlag("show_all_stabilities", cmd.Flags().Lookup("all-stabilities"))
	return cmd
}

func runShow(cmd *cobra.Command, args []string, opts showOptions) error {
	service, err := newAppService(cmd)
	if err != nil {
		return err
	}
	defer service.Close()

	req := app.ShowRequest{
		Name:           args[0],
		AllStabilities: resolveBool(cmd, opts.AllStabilities, "show_all_stabilities", "all-stabilities"),
		Shadowed:       opts.Shadowed,
		Pool:           opts.Pool,
	}
	if len(args) > 1 {
		req.Constraint = args[1]
	}
	result, err := service.Show(cmd.Context(), req)
	if err != nil {
		return err
	}
	return emit(service, opts.Report, result, func() {
		if len(result.Packages) == 0 {
			fmt.Printf("%s is not available as a package, it is provided by:\n", result.Name)
			for _, provider := range result.Providers {
				fmt.Printf("- %s (%s) %s\n", provider.Name, provider.Type, provider.Description)
			}
			return
		}
		for _, pkg := range result.Packages {
			fmt.Printf("%s %s [%s] from %s\n", pkg.Name, pkg.Version, pkg.Stability, pkg.Repository)
			if pkg.AliasOf != "" {
				fmt.Printf("  alias of %s\n", pkg.AliasOf)
			}
			if pkg.Abandoned != "" {
				fmt.Printf("  abandoned: %s\n", pkg.Abandoned)
			}
			if len(pkg.Requires) > 0 {
				requires := make([]string, 0, len(pkg.Requires))
				for _, name := range shared.SortedKeys(pkg.Requires) {
					requires = append(requires, name+" "+pkg.Requires[name])
				}
				fmt.Printf("  requires: %s\n", strings.Join(requires, ", "))
			}
		}
	})
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"composer-repos/internal/app"
)

type dependsOptions struct {
	Installed string
	Manifest  string
	Recursive bool
	Invert    bool
	Dev       bool
	Report    reportOptions
}

func newDependsCommand() *cobra.Command {
	opts := dependsOptions{}
	cmd := &cobra.Command{
		Use:     "depends <name> [constraint]",
		Aliases: []string{"why"},
		Short:   "Show which installed packages depend on a package",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDepends(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Installed, "installed", "vendor/composer/installed.json", "installed.json or composer.lock to inspect")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "Project composer.json (defaults to the one next to a composer.lock)")
	cmd.Flags().BoolVar(&opts.Recursive, "recursive", false, "Resolve dependents recursively")
	cmd.Flags().BoolVar(&opts.Invert, "invert", false, "Show what prevents the package from being installed at the constraint")
	cmd.Flags().BoolVar(&opts.Dev, "dev", true, "Include packages-dev of a composer.lock")

	addReportFlags(cmd, &opts.Report)
	_ = viper.BindPFlag("installed", cmd.Flags().Lookup("installed"))
	return cmd
}

func runDepends(cmd *cobra.Command, args []string, opts dependsOptions) error {
	service, err := newAppService(cmd)
	if err != nil {
		return err
	}
	defer service.Close()

	req := app.DependsRequest{
		Name:      args[0],
		Installed: resolveString(cmd, opts.Installed, "installed", "installed"),
		Manifest:  opts.Manifest,
		Recursive: opts.Recursive,
		Invert:    opts.Invert,
		Dev:       opts.Dev,
	}
	if len(args) > 1 {
		req.Constraint = args[1]
	}
	result, err := service.Depends(cmd.Context(), req)
	if err != nil {
		return err
	}
	return emit(service, opts.Report, result, func() {
		if len(result.Dependents) == 0 {
			fmt.Printf("no installed package depends on %s\n", result.Name)
			return
		}
		printDependents(result.Dependents, 0)
	})
}

func printDependents(entries []app.DependentEntry, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, entry := range entries {
		line := fmt.Sprintf("%s%s %s %s %s %s", indent, entry.Package, entry.Version, entry.Relation, entry.Target, entry.Constraint)
		if entry.Circular {
			line += " (circular dependency aborted here)"
		}
		fmt.Println(line)
		printDependents(entry.Dependents, depth+1)
	}
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"composer-repos/internal/app"
)

type searchOptions struct {
	Mode   string
	Type   string
	Report reportOptions
}

func newSearchCommand() *cobra.Command {
	opts := searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the configured repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Mode, "mode", "fulltext", "Search mode (fulltext, name, vendor)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Only return packages of this type")
	addReportFlags(cmd, &opts.Report)
	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	service, err := newAppService(cmd)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.Search(cmd.Context(), app.SearchRequest{
		Query: query,
		Mode:  opts.Mode,
		Type:  opts.Type,
	})
	if err != nil {
		return err
	}
	return emit(service, opts.Report, result, func() {
		for _, found := range result.Results {
			line := found.Name
			if found.Description != "" {
				line += " " + found.Description
			}
			switch found.Abandoned {
			case "":
			case "true":
				line += " (abandoned)"
			default:
				line += fmt.Sprintf(" (abandoned, use %s)", found.Abandoned)
			}
			fmt.Println(line)
		}
	})
}

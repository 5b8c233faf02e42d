package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the metadata cache",
	}
	cmd.AddCommand(newCacheClearCommand())
	cmd.AddCommand(newCachePathCommand())
	return cmd
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove cached repository metadata, vcs mirrors and version caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService(cmd)
			if err != nil {
				return err
			}
			defer service.Close()
			paths, err := service.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cleared %s cache at %s\n", paths.Backend, paths.Root)
			return nil
		},
	}
}

func newCachePathCommand() *cobra.Command {
	opts := reportOptions{}
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the cache locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService(cmd)
			if err != nil {
				return err
			}
			defer service.Close()
			paths := service.CachePaths()
			return emit(service, opts, paths, func() {
				fmt.Printf("backend:  %s\n", paths.Backend)
				fmt.Printf("root:     %s\n", paths.Root)
				fmt.Printf("repo:     %s\n", paths.Repo)
				fmt.Printf("vcs:      %s\n", paths.Vcs)
				fmt.Printf("versions: %s\n", paths.Versions)
			})
		},
	}
	addReportFlags(cmd, &opts)
	return cmd
}

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/source"
)

func newSearchCmd() *cobra.Command {
	var (
		configPath string
		user       string
		org        string
		mine       bool
		page       int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find repositories on GitHub",
		Long: `Searches GitHub repositories, or lists the repositories of a user (--user),
an organization (--org) or the authenticated account (--mine).`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, configPath, strings.Join(args, " "), user, org, mine, page)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&user, "user", "", "list a user's repositories")
	cmd.Flags().StringVar(&org, "org", "", "list an organization's repositories")
	cmd.Flags().BoolVar(&mine, "mine", false, "list the authenticated account's repositories")
	cmd.Flags().IntVar(&page, "page", 1, "result page")
	cmd.MarkFlagsMutuallyExclusive("user", "org", "mine")
	return cmd
}

func runSearch(cmd *cobra.Command, configPath, query, user, org string, mine bool, page int) error {
	if query == "" && user == "" && org == "" && !mine {
		return failure.New(failure.InvalidArgument, "search needs a query, --user, --org or --mine")
	}
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var resp *source.Response[source.RepoPage]
	switch {
	case org != "":
		resp, err = a.source.ListOrgRepositories(ctx, org, page)
	case user != "" || mine:
		resp, err = a.source.ListUserRepositories(ctx, user, page)
	default:
		resp, err = a.source.SearchRepositories(ctx, query, page)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Data.Repositories) == 0 {
		fmt.Fprintln(out, "No repositories found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tBRANCH\tUPDATED\tDESCRIPTION")
	for _, r := range resp.Data.Repositories {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.FullName, r.DefaultBranch, updated, r.Description)
	}
	w.Flush()
	if resp.Data.NextPage != 0 {
		fmt.Fprintf(out, "\nMore results: --page %d\n", resp.Data.NextPage)
	}
	return nil
}

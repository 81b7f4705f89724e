package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/failure"
)

func newDiffCmd() *cobra.Command {
	var (
		configPath string
		head       string
	)

	cmd := &cobra.Command{
		Use:   "diff <id|owner/name>",
		Short: "Show upstream changes since the last deployment",
		Long: `Compares the last deployed commit of a tracked repository with its ref
(or --head) and lists the changed files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, configPath, args[0], head)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&head, "head", "", "ref to compare against (default: tracked ref)")
	return cmd
}

func runDiff(cmd *cobra.Command, configPath, arg, head string) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rec, err := findRepo(a.repos, arg)
	if err != nil {
		return err
	}
	if rec.LastDeployedCommitSHA == nil || *rec.LastDeployedCommitSHA == "" {
		return failure.New(failure.InvalidArgument, "%s has no recorded deployment to compare from", rec.FullName())
	}
	if head == "" {
		head = rec.Ref
	}

	resp, err := a.source.Compare(cmd.Context(), rec.Owner, rec.Name, *rec.LastDeployedCommitSHA, head)
	if err != nil {
		return err
	}
	c := resp.Data
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s...%s is %s (ahead %d, behind %d, %d commits)\n",
		rec.FullName(), shortSHA(rec.LastDeployedCommitSHA), head, c.Status, c.AheadBy, c.BehindBy, c.TotalCommits)
	if len(c.Files) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tFILE\t+\t-")
	for _, f := range c.Files {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", f.Status, f.Filename, f.Additions, f.Deletions)
	}
	return w.Flush()
}

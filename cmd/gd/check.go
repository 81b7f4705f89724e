package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/updater"
)

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check [id|owner/name]",
		Short: "Check tracked repositories for upstream changes",
		Long: `Runs one update sweep: every repository with auto-update enabled is
compared against the latest commit of its ref and redeployed when it moved.
With an argument only that repository is checked, whether or not
auto-update is enabled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runCheck(cmd, configPath, target)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runCheck(cmd *cobra.Command, configPath, target string) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if target != "" {
		rec, err := findRepo(a.repos, target)
		if err != nil {
			return err
		}
		res := a.checker.Check(cmd.Context(), rec)
		printResults(out, []updater.Result{res})
		return res.Err
	}

	report, err := a.checker.CheckForUpdates(cmd.Context())
	if err != nil {
		return err
	}
	if report.Checked == 0 {
		fmt.Fprintln(out, "No repositories have auto-update enabled.")
		return nil
	}
	printResults(out, report.Results)
	fmt.Fprintf(out, "\nChecked %d, deployed %d, skipped %d, failed %d in %s\n",
		report.Checked, report.Deployed, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
	return nil
}

func printResults(out io.Writer, results []updater.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPOSITORY\tREF\tACTION\tLATEST\tERROR")
	for _, r := range results {
		latest := r.LatestSHA
		if len(latest) > 12 {
			latest = latest[:12]
		}
		if latest == "" {
			latest = "-"
		}
		msg := "-"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.RepoID, r.Repo, r.Ref, r.Action, latest, msg)
	}
	w.Flush()
}

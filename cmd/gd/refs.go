package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/source"
)

func newRefsCmd() *cobra.Command {
	var (
		configPath string
		refType    string
	)

	cmd := &cobra.Command{
		Use:   "refs <url|owner/name>",
		Short: "List the branches, tags and releases of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefs(cmd, configPath, args[0], refType)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&refType, "type", "t", "all", "branches, tags, releases or all")
	return cmd
}

func runRefs(cmd *cobra.Command, configPath, arg, refType string) error {
	owner, name, err := source.ParseRepositoryURL(arg)
	if err != nil {
		return err
	}
	switch refType {
	case "all", "branches", "tags", "releases":
	default:
		return fmt.Errorf("unknown ref type %q (want branches, tags, releases or all)", refType)
	}
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tDETAIL")

	if refType == "all" || refType == "branches" {
		branches, err := a.source.GetBranches(ctx, owner, name)
		if err != nil {
			return err
		}
		for _, b := range branches.Data {
			fmt.Fprintf(w, "branch\t%s\t%s\n", b.Name, b.SHA)
		}
	}
	if refType == "all" || refType == "tags" {
		tags, err := a.source.GetTags(ctx, owner, name)
		if err != nil {
			return err
		}
		for _, t := range tags.Data {
			fmt.Fprintf(w, "tag\t%s\t%s\n", t.Name, t.SHA)
		}
	}
	if refType == "all" || refType == "releases" {
		releases, err := a.source.GetReleases(ctx, owner, name)
		if err != nil {
			return err
		}
		for _, r := range releases.Data {
			detail := r.Name
			switch {
			case r.Draft:
				detail += " (draft)"
			case r.Prerelease:
				detail += " (prerelease)"
			}
			fmt.Fprintf(w, "release\t%s\t%s\n", r.TagName, detail)
		}
	}
	return w.Flush()
}

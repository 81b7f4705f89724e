package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Tracked repository commands",
	}

	cmd.AddCommand(newRepoAddCmd())
	cmd.AddCommand(newRepoConnectCmd())
	cmd.AddCommand(newRepoListCmd())
	cmd.AddCommand(newRepoShowCmd())
	cmd.AddCommand(newRepoRemoveCmd())
	cmd.AddCommand(newRepoAutoUpdateCmd())
	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var (
		configPath string
		opts       tracked.CreateOpts
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "add <url|owner/name>",
		Short: "Track a repository without deploying it",
		Long:  "Registers a GitHub repository. Nothing is downloaded; ref, kind and target default to main, plugin and the repository name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := source.ParseRepositoryURL(args[0])
			if err != nil {
				return err
			}
			opts.Owner, opts.Name, opts.Kind = owner, name, models.Kind(kind)
			return runRepoAdd(cmd, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "branch or tag to track (default main)")
	cmd.Flags().StringVar(&kind, "kind", "", "artifact kind: plugin or theme (default plugin)")
	cmd.Flags().StringVar(&opts.TargetDir, "target", "", "directory name under the destination root (default repository name)")
	cmd.Flags().BoolVar(&opts.AutoUpdate, "auto-update", false, "redeploy automatically when the ref moves")
	return cmd
}

func runRepoAdd(cmd *cobra.Command, configPath string, opts tracked.CreateOpts) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	repo, err := tracked.NewStore(gormDB).Create(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tracking %s as #%d\n", repo.FullName(), repo.ID)
	fmt.Fprintf(out, "Ref: %s  Kind: %s  Target: %s\n", repo.Ref, repo.Kind, repo.TargetDir)
	return nil
}

func newRepoConnectCmd() *cobra.Command {
	var (
		configPath string
		ref        string
		target     string
		autoUpdate bool
		deployNow  bool
	)

	cmd := &cobra.Command{
		Use:   "connect <url|owner/name>",
		Short: "Look up a repository on GitHub and track it",
		Long: `Resolves the repository on GitHub, detects whether it is a plugin or a
theme and registers it. Ref defaults to the repository's default branch.
With --deploy the repository is installed straight away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoConnect(cmd, configPath, args[0], ref, target, autoUpdate, deployNow)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&ref, "ref", "", "branch or tag to track (default: repository default branch)")
	cmd.Flags().StringVar(&target, "target", "", "directory name under the destination root (default repository name)")
	cmd.Flags().BoolVar(&autoUpdate, "auto-update", false, "redeploy automatically when the ref moves")
	cmd.Flags().BoolVar(&deployNow, "deploy", false, "install the repository after registering it")
	return cmd
}

func runRepoConnect(cmd *cobra.Command, configPath, rawURL, ref, target string, autoUpdate, deployNow bool) error {
	owner, name, err := source.ParseRepositoryURL(rawURL)
	if err != nil {
		return err
	}
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	meta, err := a.source.GetRepository(ctx, owner, name)
	if err != nil {
		return err
	}
	if ref == "" {
		ref = meta.Data.DefaultBranch
	}
	kind, err := a.source.DetectKind(ctx, owner, name, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %s (%s, default branch %s)\n", meta.Data.FullName, kind, meta.Data.DefaultBranch)

	if deployNow {
		outcome, err := a.deployer.Deploy(ctx, deploy.Request{
			Owner:            owner,
			Name:             name,
			Ref:              ref,
			Kind:             kind,
			TargetDir:        target,
			EnableAutoUpdate: autoUpdate,
			Trigger:          "cli",
			OnState:          printState(out),
		})
		if err != nil {
			return err
		}
		printOutcome(out, outcome)
		return nil
	}

	repo, err := a.repos.Create(tracked.CreateOpts{
		Owner:      owner,
		Name:       name,
		Ref:        ref,
		Kind:       kind,
		TargetDir:  target,
		AutoUpdate: autoUpdate,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Tracking %s as #%d\n", repo.FullName(), repo.ID)
	fmt.Fprintf(out, "Ref: %s  Kind: %s  Target: %s\n", repo.Ref, repo.Kind, repo.TargetDir)
	return nil
}

func newRepoListCmd() *cobra.Command {
	var (
		configPath string
		autoOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoList(cmd, configPath, autoOnly)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&autoOnly, "auto-update", false, "only list repositories with auto-update enabled")
	return cmd
}

func runRepoList(cmd *cobra.Command, configPath string, autoOnly bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store := tracked.NewStore(gormDB)

	var repos []models.TrackedRepository
	if autoOnly {
		repos, err = store.ListAutoUpdate()
	} else {
		repos, err = store.List()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(repos) == 0 {
		fmt.Fprintln(out, "No repositories tracked.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPOSITORY\tREF\tKIND\tTARGET\tAUTO\tCOMMIT")
	for _, r := range repos {
		auto := "no"
		if r.AutoUpdate {
			auto = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.FullName(), r.Ref, r.Kind, r.TargetDir, auto, shortSHA(r.LastDeployedCommitSHA))
	}
	return w.Flush()
}

func newRepoShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id|owner/name>",
		Short: "Show a tracked repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRepoShow(cmd *cobra.Command, configPath, arg string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	r, err := findRepo(tracked.NewStore(gormDB), arg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Repository:   %s (#%d)\n", r.FullName(), r.ID)
	fmt.Fprintf(out, "Ref:          %s\n", r.Ref)
	fmt.Fprintf(out, "Kind:         %s\n", r.Kind)
	fmt.Fprintf(out, "Target:       %s\n", r.TargetDir)
	fmt.Fprintf(out, "Auto-update:  %t\n", r.AutoUpdate)
	if r.LastDeployedCommitSHA != nil {
		fmt.Fprintf(out, "Commit:       %s\n", *r.LastDeployedCommitSHA)
	}
	if r.LastDeployedAt != nil {
		fmt.Fprintf(out, "Deployed at:  %s\n", r.LastDeployedAt.Format("2006-01-02 15:04:05"))
	}
	if r.LastCheckedAt != nil {
		fmt.Fprintf(out, "Checked at:   %s\n", r.LastCheckedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func newRepoRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <id|owner/name>",
		Short: "Stop tracking a repository",
		Long:  "Removes the tracking record. Installed files and backups are left in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoRemove(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRepoRemove(cmd *cobra.Command, configPath, arg string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store := tracked.NewStore(gormDB)
	r, err := findRepo(store, arg)
	if err != nil {
		return err
	}
	if err := store.Delete(r.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (#%d)\n", r.FullName(), r.ID)
	return nil
}

func newRepoAutoUpdateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:       "auto-update <id|owner/name> <on|off>",
		Short:     "Enable or disable automatic updates",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoAutoUpdate(cmd, configPath, args[0], args[1])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRepoAutoUpdate(cmd *cobra.Command, configPath, arg, state string) error {
	var enabled bool
	switch state {
	case "on", "true", "yes":
		enabled = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("auto-update state must be on or off, got %q", state)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store := tracked.NewStore(gormDB)
	r, err := findRepo(store, arg)
	if err != nil {
		return err
	}
	if err := store.SetAutoUpdate(r.ID, enabled); err != nil {
		return err
	}
	word := "disabled"
	if enabled {
		word = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Auto-update %s for %s\n", word, r.FullName())
	return nil
}

// findRepo looks a record up by numeric ID, then by URL or owner/name.
func findRepo(store *tracked.Store, arg string) (*models.TrackedRepository, error) {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return store.Get(uint(id))
	}
	owner, name, err := source.ParseRepositoryURL(arg)
	if err != nil {
		return nil, failure.New(failure.InvalidArgument, "%q is neither a repository ID nor owner/name", arg)
	}
	return store.GetByName(owner, name)
}

func shortSHA(sha *string) string {
	if sha == nil || *sha == "" {
		return "-"
	}
	if len(*sha) > 12 {
		return (*sha)[:12]
	}
	return *sha
}

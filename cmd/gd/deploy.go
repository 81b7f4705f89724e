package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
)

// cliTrigger names CLI callers in lock diagnostics.
const cliTrigger = "cli"

func newDeployCmd() *cobra.Command {
	var (
		configPath string
		req        deploy.Request
		kind       string
		repoURL    string
		id         uint
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Install or update a repository",
		Long: `Downloads the repository archive at the given ref, validates it and
installs it under the destination root for its kind.

An existing target is only replaced with --update, after a backup of the
current contents. With --id the tracked record's ref, kind and target are
used and the existing target is always replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != 0 {
				return runDeployByID(cmd, configPath, id)
			}
			if repoURL != "" {
				owner, name, err := source.ParseRepositoryURL(repoURL)
				if err != nil {
					return err
				}
				req.Owner, req.Name = owner, name
			}
			if req.Owner == "" || req.Name == "" {
				return failure.New(failure.InvalidArgument, "deploy needs --id, --url or both --owner and --name")
			}
			req.Kind = models.Kind(kind)
			return runDeploy(cmd, configPath, req)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().UintVar(&id, "id", 0, "redeploy a tracked repository by ID")
	cmd.Flags().StringVar(&repoURL, "url", "", "repository URL or owner/name")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "repository owner")
	cmd.Flags().StringVar(&req.Name, "name", "", "repository name")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "branch or tag (default: tracked ref, then default branch)")
	cmd.Flags().StringVar(&kind, "kind", "", "artifact kind: plugin or theme")
	cmd.Flags().StringVar(&req.TargetDir, "target", "", "directory name under the destination root")
	cmd.Flags().BoolVar(&req.UpdateExisting, "update", false, "replace an existing installation")
	cmd.Flags().BoolVar(&req.EnableAutoUpdate, "auto-update", false, "enable auto-update for the repository")
	cmd.MarkFlagsMutuallyExclusive("id", "url")
	cmd.MarkFlagsMutuallyExclusive("id", "owner")
	return cmd
}

func runDeploy(cmd *cobra.Command, configPath string, req deploy.Request) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	req.Trigger = cliTrigger
	req.OnState = printState(out)

	outcome, err := a.deployer.Deploy(cmd.Context(), req)
	if err != nil {
		return err
	}
	printOutcome(out, outcome)
	return nil
}

func runDeployByID(cmd *cobra.Command, configPath string, id uint) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	outcome, err := a.deployer.DeployByID(cmd.Context(), id, cliTrigger)
	if err != nil {
		return err
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

func printState(out io.Writer) func(deploy.State) {
	return func(s deploy.State) {
		if s == deploy.Failed || s == deploy.Done {
			return
		}
		fmt.Fprintf(out, "  %s...\n", s)
	}
}

func printOutcome(out io.Writer, o *deploy.Outcome) {
	verb := "Deployed"
	if o.Updated {
		verb = "Updated"
	}
	fmt.Fprintf(out, "%s %s/%s@%s (%s) to %s\n", verb, o.Owner, o.Name, o.Ref, o.Kind, o.TargetPath)
	if o.CommitSHA != "" {
		fmt.Fprintf(out, "Commit: %s\n", o.CommitSHA)
	}
	if o.Backup != nil {
		fmt.Fprintf(out, "Backup: %s\n", o.Backup.ID)
	}
	if o.Repository != nil && o.Repository.AutoUpdate {
		fmt.Fprintln(out, "Auto-update: enabled")
	}
}

func newRollbackCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rollback <id|owner/name> [backup-id]",
		Short: "Restore a backup",
		Long: `Restores a backup of the repository over its installed directory. The
current contents are backed up first. Without a backup ID the newest
backup is restored.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backupID := ""
			if len(args) == 2 {
				backupID = args[1]
			}
			return runRollback(cmd, configPath, args[0], backupID)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRollback(cmd *cobra.Command, configPath, arg, backupID string) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	owner, name, err := repoIdentity(a.repos, arg)
	if err != nil {
		return err
	}

	if backupID == "" {
		list, err := a.deployer.Backups(owner, name)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return failure.New(failure.BackupNotFound, "no backups for %s/%s", owner, name)
		}
		backupID = list[0].ID
	}

	meta, err := a.deployer.Rollback(cmd.Context(), owner, name, backupID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s/%s@%s from %s to %s\n", owner, name, meta.Ref, backupID, meta.Directory)
	return nil
}

// repoIdentity resolves arg to owner and name. Numeric IDs must be
// tracked; owner/name works for untracked repositories too.
func repoIdentity(store *tracked.Store, arg string) (string, string, error) {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		r, err := store.Get(uint(id))
		if err != nil {
			return "", "", err
		}
		return r.Owner, r.Name, nil
	}
	return source.ParseRepositoryURL(arg)
}

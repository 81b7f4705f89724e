package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Backup commands",
	}

	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	return cmd
}

func newBackupListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <id|owner/name>",
		Short: "List backups of a repository, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBackupList(cmd *cobra.Command, configPath, arg string) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	owner, name, err := repoIdentity(a.repos, arg)
	if err != nil {
		return err
	}
	list, err := a.backups.List(owner, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No backups for %s/%s.\n", owner, name)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tREF\tKIND\tSIZE\tDIRECTORY")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", d.ID, d.CreatedAt.Format("2006-01-02 15:04:05"), d.Ref, d.Kind, d.SizeBytes, d.Directory)
	}
	return w.Flush()
}

func newBackupDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id|owner/name> <backup-id>",
		Short: "Delete one backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupDelete(cmd, configPath, args[0], args[1])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBackupDelete(cmd *cobra.Command, configPath, arg, backupID string) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	owner, name, err := repoIdentity(a.repos, arg)
	if err != nil {
		return err
	}
	if err := a.backups.Delete(owner, name, backupID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted backup %s of %s/%s\n", backupID, owner, name)
	return nil
}

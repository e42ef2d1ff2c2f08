package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/spf13/cobra"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}
	cmd.AddCommand(newRepoAddCmd())
	cmd.AddCommand(newRepoListCmd())
	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var defaultBranch, configPath string

	cmd := &cobra.Command{
		Use:   "add <owner/name>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, ok := strings.Cut(args[0], "/")
			if !ok || owner == "" || name == "" {
				return fmt.Errorf("sbx: repo must be owner/name, got %q", args[0])
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}

			owner = strings.ToLower(owner)
			name = strings.ToLower(name)
			if !cfg.Allowed(owner, name) {
				return fmt.Errorf("sbx: repo %s/%s is not allowlisted", owner, name)
			}

			now := time.Now()
			repo := models.Repo{
				ID:            fmt.Sprintf("repo_%08x", now.UnixNano()&0xffffffff),
				Owner:         owner,
				Name:          name,
				DefaultBranch: defaultBranch,
				ConfigPath:    configPath,
				Enabled:       true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if repo.DefaultBranch == "" {
				repo.DefaultBranch = "main"
			}
			if repo.ConfigPath == "" {
				repo.ConfigPath = "signalbox.yaml"
			}

			if err := conn.Create(&repo).Error; err != nil {
				return fmt.Errorf("sbx: register repo: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", repo.FullName(), repo.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&defaultBranch, "default-branch", "", "base branch for runs (default main)")
	cmd.Flags().StringVar(&configPath, "config-path", "", "in-repo config path (default signalbox.yaml)")
	return cmd
}

func newRepoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}

			var repos []models.Repo
			if err := conn.Order("owner ASC, name ASC").Find(&repos).Error; err != nil {
				return fmt.Errorf("sbx: list repos: %w", err)
			}
			for _, r := range repos {
				state := "enabled"
				if !r.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.ID, r.FullName(), r.DefaultBranch, state)
			}
			return nil
		},
	}
}

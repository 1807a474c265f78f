package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/internal/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

// withMigrator 加载配置并打开迁移器，执行完毕后关闭
func withMigrator(cmd *cobra.Command, fn func(*migration.CLI) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m, err := migration.NewMigratorFromConfig(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()
	return fn(migration.NewCLI(m, cmd.OutOrStdout()))
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunUp(cmd.Context()) })
			},
		},
		&cobra.Command{
			Use:   "down [n|all]",
			Short: "Roll back n migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n := 1
				if len(args) == 1 {
					if args[0] == "all" {
						n = 0
					} else {
						v, err := strconv.Atoi(args[0])
						if err != nil || v < 1 {
							return fmt.Errorf("invalid step count %q", args[0])
						}
						n = v
					}
				}
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunDown(cmd.Context(), n) })
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunGoto(cmd.Context(), uint(v)) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunForce(cmd.Context(), v) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunVersion(cmd.Context()) })
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(c *migration.CLI) error { return c.RunStatus(cmd.Context()) })
			},
		},
	)
}

package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 把迁移操作格式化为终端输出，供 cmd/planner migrate 子命令使用
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(migrator Migrator, out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{migrator: migrator, out: out}
}

// RunUp 执行全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.out, "Applying pending migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "Schema is up to date")
}

// RunDown 回滚 n 步（n<=0 时回滚全部）
func (c *CLI) RunDown(ctx context.Context, n int) error {
	var err error
	if n <= 0 {
		fmt.Fprintln(c.out, "Rolling back all migrations...")
		err = c.migrator.DownAll(ctx)
	} else {
		fmt.Fprintf(c.out, "Rolling back %d migration(s)...\n", n)
		err = c.migrator.Steps(ctx, -n)
	}
	if err != nil {
		return err
	}
	return c.printVersion(ctx, "Rollback complete")
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.out, "Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return err
	}
	return c.printVersion(ctx, "Migration complete")
}

// RunForce 强制设置版本号
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.out, "Current version: %d%s\n", version, suffix)
	return nil
}

// RunStatus 以表格打印每个迁移的状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

func (c *CLI) printVersion(ctx context.Context, prefix string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s. Current version: %d (%d pending)\n", prefix, info.CurrentVersion, info.PendingMigrations)
	return nil
}

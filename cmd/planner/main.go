// =============================================================================
// agent-planner 主入口
// =============================================================================
// 使用方法:
//
//	planner serve --config config.yaml  # 启动 API 与指标服务
//	planner migrate up                  # 应用全部待执行迁移
//	planner migrate down [n]            # 回滚 n 步（默认 1，all 表示全部）
//	planner migrate status              # 查看迁移状态
//	planner health --addr http://localhost:8080
//	planner version
// =============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/serkansepil/agent-planner-sub001/config"
)

// 版本信息（构建时通过 -ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "planner",
	Short:         "Agent execution and orchestration engine",
	Long:          `planner executes prompts as configured agents across LLM providers, and schedules task graphs over agent workspaces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "planner %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig 默认值 → 配置文件 → PLANNER_ 环境变量
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	return loader.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

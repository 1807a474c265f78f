package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/config"
	"github.com/serkansepil/agent-planner-sub001/internal/database"
)

// NewMigratorFromConfig 按数据库配置打开独立连接并创建迁移器
func NewMigratorFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	gdb, err := database.Open(string(dbType), cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := NewMigrator(sqlDB, Config{DatabaseType: dbType}, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

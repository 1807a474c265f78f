package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// Embedded Migration Files
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// =============================================================================
// Types and Interfaces
// =============================================================================

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType
	// TableName 版本表名，默认 schema_migrations
	TableName string
	// LockTimeout 获取迁移锁的超时
	LockTimeout time.Duration
}

// Migrator 迁移操作接口，CLI 依赖此接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps 正数前进 n 步，负数回滚 n 步
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只设置版本号，不执行 SQL（用于修复 dirty 状态）
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// Default Migrator Implementation
// =============================================================================

// DefaultMigrator 基于 golang-migrate 与内嵌 SQL 的迁移器
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 在已打开的连接上创建迁移器；Close 会关闭该连接
func NewMigrator(db *sql.DB, cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{
		config: cfg,
		logger: logger.With(zap.String("component", "migration")),
	}

	driver, err := m.createDatabaseDriver(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, migrationsDir(cfg.DatabaseType))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m.migrate, err = migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = cfg.LockTimeout
	m.migrate.Log = &zapMigrateLogger{logger: m.logger}
	return m, nil
}

func (m *DefaultMigrator) createDatabaseDriver(db *sql.DB) (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: m.config.TableName})
	case DatabaseTypeSQLite:
		// 连接由 glebarez/sqlite 打开，这里只借用 golang-migrate 的 sqlite 方言
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: m.config.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

func migrationsDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// Up 执行全部待执行迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	if err := m.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 返回当前版本；尚未迁移时返回 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出每个内嵌迁移的应用状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 关闭 source 与 database 驱动
func (m *DefaultMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 解析 000001_name.up.sql 形式的文件名
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ParseDatabaseType 解析数据库类型（接受常见别名）
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l *zapMigrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *zapMigrateLogger) Verbose() bool { return false }

package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/serkansepil/agent-planner-sub001/config"
	"github.com/serkansepil/agent-planner-sub001/internal/database"
)

// --- helpers ---

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := database.Open("sqlite", filepath.Join(t.TempDir(), "planner.db"), nil)
	require.NoError(t, err)
	return gdb
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, *gorm.DB) {
	t.Helper()
	gdb := openSQLite(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	m, err := NewMigrator(sqlDB, Config{DatabaseType: DatabaseTypeSQLite}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, gdb
}

// --- tests ---

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			files, err := availableMigrations(dbType)
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, migrationFile{version: 1, name: "create_executions"}, files[0])
			assert.Equal(t, migrationFile{version: 2, name: "create_model_pricing"}, files[1])
		})
	}
}

func TestNewMigrator_NilDB(t *testing.T) {
	_, err := NewMigrator(nil, Config{DatabaseType: DatabaseTypeSQLite}, nil)
	require.Error(t, err)
}

func TestMigrator_SQLiteUpDown(t *testing.T) {
	m, gdb := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second Up is a no-op")
	assert.True(t, gdb.Migrator().HasTable("executions"))
	assert.True(t, gdb.Migrator().HasTable("model_pricing"))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	require.NoError(t, m.Down(ctx))
	assert.False(t, gdb.Migrator().HasTable("model_pricing"))
	assert.True(t, gdb.Migrator().HasTable("executions"))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.DownAll(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestNewMigratorFromConfig_UnknownDriver(t *testing.T) {
	_, err := NewMigratorFromConfig(config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
}

func TestCLI_Output(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	var buf bytes.Buffer
	cli := NewCLI(m, &buf)
	ctx := context.Background()

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, buf.String(), "No migrations applied yet")

	buf.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, buf.String(), "Current version: 2 (0 pending)")

	buf.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Regexp(t, `000001\s+create_executions\s+applied`, buf.String())
	assert.Contains(t, buf.String(), "2 applied, 0 pending")

	buf.Reset()
	require.NoError(t, cli.RunDown(ctx, 1))
	assert.Contains(t, buf.String(), "Current version: 1 (1 pending)")
}

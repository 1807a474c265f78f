package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- mocks ---

type fakeMigrator struct {
	upErr, closeErr error
	closed          bool
}

func (f *fakeMigrator) Up(context.Context) error { return f.upErr }

func (f *fakeMigrator) Close() error {
	f.closed = true
	return f.closeErr
}

// --- tests ---

func TestApplyMigrations(t *testing.T) {
	tests := []struct {
		name      string
		m         *fakeMigrator
		wantErr   bool
		wantWarns int
	}{
		{"success", &fakeMigrator{}, false, 0},
		{"up fails", &fakeMigrator{upErr: errors.New("dirty database")}, true, 0},
		{"close fails", &fakeMigrator{closeErr: errors.New("connection reset")}, false, 1},
		{"both fail", &fakeMigrator{upErr: errors.New("dirty database"), closeErr: errors.New("connection reset")}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			err := applyMigrations(context.Background(), tt.m, zap.New(core))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "apply migrations")
			} else {
				require.NoError(t, err)
			}
			assert.True(t, tt.m.closed)

			warns := logs.FilterMessage("failed to close migrator")
			require.Equal(t, tt.wantWarns, warns.Len())
			if tt.wantWarns > 0 {
				assert.Equal(t, "connection reset", warns.All()[0].ContextMap()["error"])
			}
		})
	}
}

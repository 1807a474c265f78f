package budget

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestPricingTable_Lookup(t *testing.T) {
	table := NewPricingTable(DefaultFallbackPricing(), DefaultModelPricing()...)

	p, kind := table.Lookup("gpt-4o")
	assert.Equal(t, MatchExact, kind)
	assert.Equal(t, 5.0, p.InputCostPer1MTokens)

	p, kind = table.Lookup("gpt-4-0613")
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "gpt-4", p.Model)

	p, kind = table.Lookup("gpt-4o-mini-2024-07-18")
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "gpt-4o-mini", p.Model)

	_, kind = table.Lookup("llama-3")
	assert.Equal(t, MatchFallback, kind)
}

func TestPricingTable_SetOverrides(t *testing.T) {
	table := NewPricingTable(ModelPricing{InputCostPer1MTokens: 1}, DefaultModelPricing()...)
	table.Set(ModelPricing{Model: "gpt-4o", InputCostPer1MTokens: 2.5, OutputCostPer1MTokens: 10}, ModelPricing{Model: " "})

	p, _ := table.Lookup("gpt-4o")
	assert.Equal(t, 2.5, p.InputCostPer1MTokens)
	assert.Equal(t, "USD", p.Currency)
	assert.Len(t, table.Rows(), len(DefaultModelPricing()))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&PricingRecord{}))
	return db
}

func TestPricingStore_UpsertAndLoad(t *testing.T) {
	store := NewPricingStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		ModelPricing{Model: "gpt-4o", InputCostPer1MTokens: 2.5, OutputCostPer1MTokens: 10},
		ModelPricing{Model: "custom-model", InputCostPer1MTokens: 1, OutputCostPer1MTokens: 1, Currency: "EUR"},
	))
	require.NoError(t, store.Upsert(ctx, ModelPricing{Model: "gpt-4o", InputCostPer1MTokens: 3, OutputCostPer1MTokens: 12}))

	rows, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "custom-model", rows[0].Model)
	assert.Equal(t, "EUR", rows[0].Currency)
	assert.Equal(t, 3.0, rows[1].InputCostPer1MTokens)

	table := NewPricingTable(DefaultFallbackPricing(), DefaultModelPricing()...)
	n, err := store.LoadInto(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	p, _ := table.Lookup("gpt-4o-2024-05-13")
	assert.Equal(t, 12.0, p.OutputCostPer1MTokens)
}

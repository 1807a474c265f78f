package budget

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PricingRecord is the model_pricing row.
type PricingRecord struct {
	Model                 string    `gorm:"column:model;primaryKey;size:128"`
	InputCostPer1MTokens  float64   `gorm:"column:input_cost_per_1m_tokens;not null"`
	OutputCostPer1MTokens float64   `gorm:"column:output_cost_per_1m_tokens;not null"`
	Currency              string    `gorm:"column:currency;size:8;not null;default:USD"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (PricingRecord) TableName() string { return "model_pricing" }

// PricingStore reads and writes pricing rows.
type PricingStore struct {
	db *gorm.DB
}

func NewPricingStore(db *gorm.DB) *PricingStore {
	return &PricingStore{db: db}
}

// Load returns all persisted pricing rows.
func (s *PricingStore) Load(ctx context.Context) ([]ModelPricing, error) {
	var records []PricingRecord
	if err := s.db.WithContext(ctx).Order("model").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]ModelPricing, 0, len(records))
	for _, r := range records {
		out = append(out, ModelPricing{
			Model:                 r.Model,
			InputCostPer1MTokens:  r.InputCostPer1MTokens,
			OutputCostPer1MTokens: r.OutputCostPer1MTokens,
			Currency:              r.Currency,
		})
	}
	return out, nil
}

// Upsert inserts or updates rows by model.
func (s *PricingStore) Upsert(ctx context.Context, rows ...ModelPricing) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]PricingRecord, 0, len(rows))
	for _, r := range rows {
		currency := r.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		records = append(records, PricingRecord{
			Model:                 r.Model,
			InputCostPer1MTokens:  r.InputCostPer1MTokens,
			OutputCostPer1MTokens: r.OutputCostPer1MTokens,
			Currency:              currency,
			UpdatedAt:             now,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{"input_cost_per_1m_tokens", "output_cost_per_1m_tokens", "currency", "updated_at"}),
	}).Create(&records).Error
}

// LoadInto merges persisted rows into table. Persisted rows override built-in ones.
func (s *PricingStore) LoadInto(ctx context.Context, table *PricingTable) (int, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	table.Set(rows...)
	return len(rows), nil
}

package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
	"go.uber.org/zap"
)

// Cost 一次调用的成本明细。
type Cost struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
	Currency   string  `json:"currency"`
}

// RoundCost rounds half-up at 6 decimal places.
func RoundCost(v float64) float64 {
	return math.Floor(v*1e6+0.5) / 1e6
}

// WouldExceedBudget reports whether spending cost on top of currentSpend passes limit.
// A non-positive limit means unlimited.
func WouldExceedBudget(cost, currentSpend, limit float64) bool {
	if limit <= 0 {
		return false
	}
	return currentSpend+cost > limit
}

// CalculateBudgetUsage returns spend as a percentage of limit. The result may exceed 100.
func CalculateBudgetUsage(currentSpend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Floor(currentSpend/limit*100*100+0.5) / 100
}

// RemainingBudget returns limit minus spend, never below zero. Unlimited budgets report 0.
func RemainingBudget(currentSpend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return RoundCost(math.Max(limit-currentSpend, 0))
}

// BudgetPeriod 预算周期。
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodTotal   BudgetPeriod = "total"
)

// Start returns the beginning of the period containing now (UTC). Total starts at the zero time.
func (p BudgetPeriod) Start(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodTotal:
		return time.Time{}
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Budget is an agent's spending limit.
type Budget struct {
	Limit  float64      `json:"limit" yaml:"limit"`
	Period BudgetPeriod `json:"period" yaml:"period"`
}

// SpendTracker supplies what an agent has spent since a point in time.
type SpendTracker interface {
	CurrentSpend(ctx context.Context, agentID string, since time.Time) (float64, error)
}

// BudgetReport summarizes an agent's budget position.
type BudgetReport struct {
	AgentID   string  `json:"agent_id"`
	Limit     float64 `json:"limit"`
	Spend     float64 `json:"spend"`
	Usage     float64 `json:"usage_percent"`
	Remaining float64 `json:"remaining"`
	Exceeded  bool    `json:"exceeded"`
}

// Accountant 成本计算与预算检查。
type Accountant struct {
	pricing *PricingTable
	spend   SpendTracker
	logger  *zap.Logger
	now     func() time.Time
}

// NewAccountant creates an Accountant. spend may be nil, in which case budgets are not enforced.
func NewAccountant(pricing *PricingTable, spend SpendTracker, logger *zap.Logger) *Accountant {
	if pricing == nil {
		pricing = NewPricingTable(DefaultFallbackPricing(), DefaultModelPricing()...)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accountant{
		pricing: pricing,
		spend:   spend,
		logger:  logger.With(zap.String("component", "accountant")),
		now:     time.Now,
	}
}

// Pricing exposes the table for loaders.
func (a *Accountant) Pricing() *PricingTable { return a.pricing }

// CalculateCost prices a call. custom, when non-nil, wins over the table.
func (a *Accountant) CalculateCost(model string, inputTokens, outputTokens int, custom *ModelPricing) Cost {
	var p ModelPricing
	if custom != nil {
		p = *custom
		if p.Currency == "" {
			p.Currency = DefaultCurrency
		}
	} else {
		var kind MatchKind
		p, kind = a.pricing.Lookup(model)
		if kind == MatchFallback {
			a.logger.Warn("no pricing for model, using default pricing",
				zap.String("model", model),
				zap.Float64("input_per_1m", p.InputCostPer1MTokens),
				zap.Float64("output_per_1m", p.OutputCostPer1MTokens))
		}
	}

	in := RoundCost(float64(inputTokens) / 1e6 * p.InputCostPer1MTokens)
	out := RoundCost(float64(outputTokens) / 1e6 * p.OutputCostPer1MTokens)
	return Cost{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  RoundCost(in + out),
		Currency:   p.Currency,
	}
}

// CheckBudget fails with BUDGET_EXCEEDED when estimatedCost would push the agent over its limit.
func (a *Accountant) CheckBudget(ctx context.Context, agentID string, budget Budget, estimatedCost float64) error {
	if budget.Limit <= 0 || a.spend == nil {
		return nil
	}
	spend, err := a.spend.CurrentSpend(ctx, agentID, budget.Period.Start(a.now()))
	if err != nil {
		return fmt.Errorf("load spend for agent %s: %w", agentID, err)
	}
	if WouldExceedBudget(estimatedCost, spend, budget.Limit) {
		a.logger.Info("budget exceeded",
			zap.String("agent_id", agentID),
			zap.Float64("spend", spend),
			zap.Float64("estimated_cost", estimatedCost),
			zap.Float64("limit", budget.Limit))
		return types.NewBudgetError(fmt.Sprintf("agent %s budget exhausted: spent %.6f of %.6f", agentID, spend, budget.Limit))
	}
	return nil
}

// Report returns the agent's current budget position.
func (a *Accountant) Report(ctx context.Context, agentID string, budget Budget) (*BudgetReport, error) {
	r := &BudgetReport{AgentID: agentID, Limit: budget.Limit}
	if a.spend == nil {
		return r, nil
	}
	spend, err := a.spend.CurrentSpend(ctx, agentID, budget.Period.Start(a.now()))
	if err != nil {
		return nil, err
	}
	r.Spend = RoundCost(spend)
	r.Usage = CalculateBudgetUsage(spend, budget.Limit)
	r.Remaining = RemainingBudget(spend, budget.Limit)
	r.Exceeded = budget.Limit > 0 && spend >= budget.Limit
	return r, nil
}

package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Pricer 重新计价接口，由 budget.Accountant 实现。
type Pricer interface {
	CalculateCost(model string, inputTokens, outputTokens int, custom *budget.ModelPricing) budget.Cost
}

// Store 执行记录存储
type Store struct {
	db     *gorm.DB
	pricer Pricer
	logger *zap.Logger
}

// NewStore 创建执行记录存储。pricer 为 nil 时 CacheSavings 恒为 0。
func NewStore(db *gorm.DB, pricer Pricer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		pricer: pricer,
		logger: logger.With(zap.String("component", "execution_history")),
	}
}

// AutoMigrate 创建 executions 表（测试与 sqlite 部署使用，生产走 internal/migration）。
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ExecutionRecord{})
}

// Record 写入一条执行记录，缺省 ID 与时间会被补齐。
func (s *Store) Record(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.logger.Error("failed to record execution",
			zap.String("execution_id", rec.ID),
			zap.Error(err))
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Get 按 ID 查询
func (s *Store) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError(fmt.Sprintf("execution %s not found", id)).WithCause(err)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) scoped(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&ExecutionRecord{})
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Model != "" {
		q = q.Where("model = ?", f.Model)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Cached != nil {
		q = q.Where("cached = ?", *f.Cached)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

// List 按筛选条件分页查询。
func (s *Store) List(ctx context.Context, f Filter) (*Page, error) {
	f = f.Normalize()

	var total int64
	if err := s.scoped(ctx, f).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	items := make([]ExecutionRecord, 0, f.Limit)
	err := s.scoped(ctx, f).
		Order(f.SortBy + " " + f.SortOrder).
		Order("id asc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: int((total + int64(f.Limit) - 1) / int64(f.Limit)),
	}, nil
}

type aggregateRow struct {
	Provider     string
	Model        string
	Status       Status
	Cached       bool
	Executions   int64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Cost         float64
	LatencyMs    int64
}

// Stats 汇总统计。分页与排序字段被忽略。
func (s *Store) Stats(ctx context.Context, f Filter) (*Stats, error) {
	var rows []aggregateRow
	err := s.scoped(ctx, f).
		Select("provider, model, status, cached, " +
			"COUNT(*) AS executions, " +
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
			"COALESCE(SUM(total_tokens), 0) AS total_tokens, " +
			"COALESCE(SUM(cost), 0) AS cost, " +
			"COALESCE(SUM(latency_ms), 0) AS latency_ms").
		Group("provider, model, status, cached").
		Order("provider, model").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate executions: %w", err)
	}

	st := &Stats{ByModel: make([]ModelStats, 0)}
	byModel := make(map[string]int)
	var latency int64
	for _, r := range rows {
		st.TotalExecutions += r.Executions
		st.TotalTokens += r.TotalTokens
		latency += r.LatencyMs
		if r.Status == StatusSuccess {
			st.Successful += r.Executions
		} else {
			st.Failed += r.Executions
		}

		var spent float64
		if r.Cached {
			st.CachedExecutions += r.Executions
			if s.pricer != nil {
				st.CacheSavings += s.pricer.CalculateCost(r.Model, int(r.InputTokens), int(r.OutputTokens), nil).TotalCost
			}
		} else {
			spent = r.Cost
			st.TotalCost += spent
		}

		key := r.Provider + "/" + r.Model
		idx, ok := byModel[key]
		if !ok {
			idx = len(st.ByModel)
			byModel[key] = idx
			st.ByModel = append(st.ByModel, ModelStats{Provider: r.Provider, Model: r.Model})
		}
		st.ByModel[idx].Executions += r.Executions
		st.ByModel[idx].TotalTokens += r.TotalTokens
		st.ByModel[idx].TotalCost = budget.RoundCost(st.ByModel[idx].TotalCost + spent)
	}

	if st.TotalExecutions > 0 {
		n := float64(st.TotalExecutions)
		st.SuccessRate = round2(float64(st.Successful) / n * 100)
		st.CacheHitRate = round2(float64(st.CachedExecutions) / n * 100)
		st.AvgLatencyMs = round2(float64(latency) / n)
	}
	st.TotalCost = budget.RoundCost(st.TotalCost)
	st.CacheSavings = budget.RoundCost(st.CacheSavings)
	return st, nil
}

// CurrentSpend 实现 budget.SpendTracker：汇总 since 之后非缓存成功执行的成本。
func (s *Store) CurrentSpend(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&ExecutionRecord{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("agent_id = ? AND cached = ? AND created_at >= ?", agentID, false, since.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

var _ budget.SpendTracker = (*Store)(nil)

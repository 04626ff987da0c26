// Package usage meters AI spend per tenant. Recording is fire-and-forget
// through a buffered queue so the message path never blocks on accounting;
// a background worker folds records into additive Postgres counters.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// modelPrice is USD per one million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

var priceTable = map[string]modelPrice{
	"gpt-3.5-turbo":  {Input: 0.50, Output: 1.50},
	"gpt-4o":         {Input: 5.00, Output: 15.00},
	"gpt-4-turbo":    {Input: 10.00, Output: 30.00},
	"gemini-1.5-pro": {Input: 3.50, Output: 10.50},
}

// defaultPrice covers models missing from the table so every call is billed
// at least nominally.
var defaultPrice = modelPrice{Input: 1.00, Output: 2.00}

// CostFor prices one call. Model names are matched by prefix so dated
// variants like gpt-4o-2024-08-06 bill as their base model.
func CostFor(model string, inputTokens, outputTokens int) float64 {
	price := defaultPrice
	if p, ok := priceTable[model]; ok {
		price = p
	} else {
		for name, p := range priceTable {
			if strings.HasPrefix(model, name) {
				price = p
				break
			}
		}
	}
	const million = 1_000_000
	return float64(inputTokens)/million*price.Input + float64(outputTokens)/million*price.Output
}

// Record is one billable AI call.
type Record struct {
	TenantID     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Totals are a tenant's accumulated counters.
type Totals struct {
	TenantID     string  `json:"tenant_id"`
	InputTokens  int64   `json:"total_input_tokens"`
	OutputTokens int64   `json:"total_output_tokens"`
	Cost         float64 `json:"total_cost"`
	APICalls     int64   `json:"total_api_calls"`
}

// Meter accepts usage records without blocking and persists them in the
// background. When the queue is full the record is dropped and logged; spend
// accounting is best-effort by design.
type Meter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	queue  chan Record
	wg     sync.WaitGroup
}

func NewMeter(log *slog.Logger, pool *pgxpool.Pool, queueSize int) *Meter {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Meter{
		pool:   pool,
		logger: log.With(slog.String("service", "usage")),
		queue:  make(chan Record, queueSize),
	}
}

// Start launches the background worker.
func (m *Meter) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for rec := range m.queue {
			if err := m.apply(context.Background(), rec); err != nil {
				m.logger.Error("apply usage record failed",
					slog.String("tenant_id", rec.TenantID),
					slog.Any("error", err))
			}
		}
	}()
}

// Stop drains the queue and waits for the worker to finish.
func (m *Meter) Stop() {
	close(m.queue)
	m.wg.Wait()
}

// Track enqueues a record. It never blocks; on a full queue the record is
// dropped with a warning.
func (m *Meter) Track(rec Record) {
	if rec.TenantID == "" || (rec.InputTokens == 0 && rec.OutputTokens == 0) {
		return
	}
	select {
	case m.queue <- rec:
	default:
		m.logger.Warn("usage queue full, dropping record",
			slog.String("tenant_id", rec.TenantID),
			slog.String("model", rec.Model))
	}
}

func (m *Meter) apply(ctx context.Context, rec Record) error {
	cost := CostFor(rec.Model, rec.InputTokens, rec.OutputTokens)
	_, err := m.pool.Exec(ctx, `
		INSERT INTO tenant_usage (tenant_id, total_input_tokens, total_output_tokens, total_cost, total_api_calls, updated_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			total_input_tokens = tenant_usage.total_input_tokens + EXCLUDED.total_input_tokens,
			total_output_tokens = tenant_usage.total_output_tokens + EXCLUDED.total_output_tokens,
			total_cost = tenant_usage.total_cost + EXCLUDED.total_cost,
			total_api_calls = tenant_usage.total_api_calls + 1,
			updated_at = now()`,
		rec.TenantID, rec.InputTokens, rec.OutputTokens, cost,
	)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

// Snapshot reads a tenant's counters. A tenant with no usage yet gets zero
// totals, not an error.
func (m *Meter) Snapshot(ctx context.Context, tenantID string) (Totals, error) {
	totals := Totals{TenantID: tenantID}
	rows, err := m.pool.Query(ctx, `
		SELECT total_input_tokens, total_output_tokens, total_cost, total_api_calls
		FROM tenant_usage WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return Totals{}, fmt.Errorf("load usage: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&totals.InputTokens, &totals.OutputTokens, &totals.Cost, &totals.APICalls); err != nil {
			return Totals{}, fmt.Errorf("scan usage: %w", err)
		}
	}
	return totals, rows.Err()
}

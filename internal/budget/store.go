package budget

import (
	"database/sql"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS llm_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	stage TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_llm_usage_recorded ON llm_usage(recorded_at);
CREATE INDEX IF NOT EXISTS idx_llm_usage_stage ON llm_usage(stage);
`

type Store struct {
	db       *sql.DB
	timezone *time.Location
	now      func() time.Time
}

func NewStore(db *sql.DB, timezone *time.Location) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	tz := timezone
	if tz == nil {
		tz = time.UTC
	}

	return &Store{db: db, timezone: tz, now: time.Now}, nil
}

func (s *Store) Record(stage, provider, model string, inputTokens, outputTokens int) error {
	_, err := s.db.Exec(
		`INSERT INTO llm_usage (recorded_at, stage, provider, model, input_tokens, output_tokens, cost_usd) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.now().UnixNano(),
		stage,
		provider,
		model,
		inputTokens,
		outputTokens,
		CalculateCost(model, inputTokens, outputTokens),
	)
	return err
}

type Summary struct {
	TotalRequests     int     `json:"total_requests"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

func (s *Store) SummaryRange(from, to time.Time) (*Summary, error) {
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM llm_usage
		WHERE recorded_at >= ? AND recorded_at < ?
	`, from.UnixNano(), to.UnixNano())

	var sum Summary
	if err := row.Scan(&sum.TotalRequests, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *Store) Today() (*Summary, error) {
	start, end := s.dayBounds()
	return s.SummaryRange(start, end)
}

func (s *Store) ThisMonth() (*Summary, error) {
	now := s.now().In(s.timezone)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.timezone)
	return s.SummaryRange(start, start.AddDate(0, 1, 0))
}

type StageBreakdown struct {
	Stage        string  `json:"stage"`
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// BreakdownByStage groups usage by pipeline stage, most expensive first.
func (s *Store) BreakdownByStage(from, to time.Time) ([]StageBreakdown, error) {
	rows, err := s.db.Query(`
		SELECT
			stage,
			COUNT(*),
			SUM(input_tokens),
			SUM(output_tokens),
			SUM(cost_usd)
		FROM llm_usage
		WHERE recorded_at >= ? AND recorded_at < ?
		GROUP BY stage
		ORDER BY SUM(cost_usd) DESC, stage ASC
	`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StageBreakdown
	for rows.Next() {
		var b StageBreakdown
		if err := rows.Scan(&b.Stage, &b.Requests, &b.InputTokens, &b.OutputTokens, &b.CostUSD); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// TodayByStage is BreakdownByStage over the current day.
func (s *Store) TodayByStage() ([]StageBreakdown, error) {
	start, end := s.dayBounds()
	return s.BreakdownByStage(start, end)
}

func (s *Store) dayBounds() (time.Time, time.Time) {
	now := s.now().In(s.timezone)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.timezone)
	return start, start.AddDate(0, 0, 1)
}

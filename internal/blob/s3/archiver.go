package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cmardones/budabid/internal/domain"
	"github.com/cmardones/budabid/internal/engine"
)

// ReportArchiver uploads one JSON document per finished run, keyed by market
// and run id, so executions can be audited long after the process is gone.
type ReportArchiver struct {
	client *Client
	prefix string
}

// NewReportArchiver creates an archiver writing under the given key prefix.
func NewReportArchiver(client *Client, prefix string) *ReportArchiver {
	return &ReportArchiver{
		client: client,
		prefix: strings.Trim(prefix, "/"),
	}
}

// executionReport is the archived document: the summary plus every fill.
type executionReport struct {
	RunID         string       `json:"run_id"`
	MarketID      string       `json:"market_id"`
	Side          string       `json:"side"`
	Target        string       `json:"target"`
	TotalSpent    string       `json:"total_spent"`
	TotalReceived string       `json:"total_received"`
	AveragePrice  string       `json:"average_price"`
	Completed     bool         `json:"completed"`
	Interrupted   bool         `json:"interrupted"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Fills         []reportFill `json:"fills"`
}

type reportFill struct {
	OrderID string    `json:"order_id"`
	Amount  string    `json:"amount"`
	Price   string    `json:"price"`
	Quote   string    `json:"quote"`
	Time    time.Time `json:"time"`
}

// Archive serializes the run report and uploads it to
// <prefix>/<market>/<run_id>.json.
func (a *ReportArchiver) Archive(ctx context.Context, summary domain.ExecutionSummary, fills []domain.Fill) error {
	report := executionReport{
		RunID:         summary.RunID,
		MarketID:      summary.MarketID,
		Side:          string(summary.Side),
		Target:        summary.Target.String(),
		TotalSpent:    summary.TotalSpent.String(),
		TotalReceived: summary.TotalReceived.String(),
		AveragePrice:  summary.AveragePrice.String(),
		Completed:     summary.Completed,
		Interrupted:   summary.Interrupted,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
		Fills:         make([]reportFill, 0, len(fills)),
	}
	for _, f := range fills {
		report.Fills = append(report.Fills, reportFill{
			OrderID: f.OrderID,
			Amount:  f.Amount.String(),
			Price:   f.Price.String(),
			Quote:   f.Quote.String(),
			Time:    f.Time,
		})
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal report %s: %w", summary.RunID, err)
	}

	key := fmt.Sprintf("%s/%s.json", summary.MarketID, summary.RunID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return a.client.Put(ctx, key, bytes.NewReader(data), "application/json")
}

// Compile-time interface check.
var _ engine.Archiver = (*ReportArchiver)(nil)

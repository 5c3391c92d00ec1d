package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cmardones/budabid/internal/domain"
)

const (
	// maxConsecutiveFailures aborts the run when this many reconcile steps in
	// a row fail. Isolated failures (a timed-out read, a 5xx) just wait for
	// the next tick.
	maxConsecutiveFailures = 5

	// shutdownTimeout bounds the best-effort cancel on interruption.
	shutdownTimeout = 15 * time.Second
)

// RunnerOptions wires a Runner. Journal, Archiver, and Notifier are optional;
// nil disables the hook.
type RunnerOptions struct {
	Gateway  Gateway
	Feed     Feed
	Intent   domain.OrderIntent
	Spec     domain.MarketSpec
	Journal  Journal
	Archiver Archiver
	Notifier Notifier
	Logger   *slog.Logger
}

// Runner drives one execution run: wait for market data, keep the maintained
// order at the front of the book via the controller, and produce an
// ExecutionSummary whether the run completes, aborts, or is interrupted.
type Runner struct {
	gw       Gateway
	feed     Feed
	intent   domain.OrderIntent
	spec     domain.MarketSpec
	ledger   *Ledger
	ctrl     *Controller
	journal  Journal
	archiver Archiver
	notifier Notifier
	logger   *slog.Logger

	runID     string
	startedAt time.Time
}

// NewRunner assembles a runner, its ledger, and its controller.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		gw:       opts.Gateway,
		feed:     opts.Feed,
		intent:   opts.Intent,
		spec:     opts.Spec,
		ledger:   NewLedger(),
		journal:  opts.Journal,
		archiver: opts.Archiver,
		notifier: opts.Notifier,
		logger: opts.Logger.With(
			slog.String("component", "runner"),
			slog.String("market", opts.Intent.MarketID),
			slog.String("side", string(opts.Intent.Side)),
		),
		runID: uuid.NewString(),
	}
	r.ctrl = NewController(opts.Gateway, r.ledger, opts.Intent, opts.Spec, opts.Logger, r.handleEvent, r.handleFill)
	return r
}

// RunID returns the identifier for this run.
func (r *Runner) RunID() string { return r.runID }

// OnOrderUpdate books an exchange-pushed order status into the ledger. Safe
// to call concurrently with the run loop: the ledger's cumulative dedup makes
// a pushed status and a later poll of the same order count once.
func (r *Runner) OnOrderUpdate(status domain.OrderStatus) {
	r.ctrl.observe(status)
}

// Execute runs to completion. The returned summary is always populated, even
// when the run was interrupted or aborted, so callers can report partial
// progress. A nil error means the run terminated normally: target exhausted
// or remainder below the market minimum.
func (r *Runner) Execute(ctx context.Context) (domain.ExecutionSummary, error) {
	r.startedAt = time.Now()

	if err := r.precheck(ctx); err != nil {
		return r.summary(false, false), err
	}

	if err := r.feed.WaitReady(ctx); err != nil {
		return r.summary(false, errors.Is(err, context.Canceled)), fmt.Errorf("engine: feed: %w", err)
	}

	if r.journal != nil {
		if err := r.journal.StartRun(ctx, r.runID, r.intent); err != nil {
			r.logger.Warn("journal start failed", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("run started",
		slog.String("run_id", r.runID),
		slog.String("target", r.intent.TargetAmount.String()),
		slog.String("strategy", string(r.intent.Strategy)),
		slog.Bool("dry_run", r.intent.DryRun),
	)

	completed, runErr := r.loop(ctx)
	interrupted := errors.Is(runErr, context.Canceled)

	if interrupted && r.ctrl.HasLiveOrder() {
		// The run context is gone; give the cancel its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		r.ctrl.Shutdown(shutdownCtx)
		cancel()
	}

	summary := r.summary(completed, interrupted)
	r.finish(summary)

	if interrupted {
		return summary, nil
	}
	return summary, runErr
}

// precheck verifies the account can fund the target before placing anything.
// Skipped for dry runs, which should not require a funded account.
func (r *Runner) precheck(ctx context.Context) error {
	if r.intent.DryRun {
		return nil
	}
	currency := r.spec.QuoteCurrency
	if r.intent.Side == domain.SideSell {
		currency = r.spec.BaseCurrency
	}
	available, err := r.gw.GetBalance(ctx, currency)
	if err != nil {
		return fmt.Errorf("engine: balance precheck: %w", err)
	}
	if available.LessThan(r.intent.TargetAmount) {
		return fmt.Errorf("engine: %s available %s < target %s: %w",
			currency, available, r.intent.TargetAmount, domain.ErrInsufficientBalance)
	}
	return nil
}

// loop reconciles until done, fatally failed, or cancelled.
func (r *Runner) loop(ctx context.Context) (completed bool, err error) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return false, context.Canceled
		}

		book, err := r.feed.Current()
		if err != nil {
			if errors.Is(err, domain.ErrNotReady) {
				if _, werr := r.feed.WaitTopChange(ctx, r.intent.Interval); werr != nil {
					return false, context.Canceled
				}
				continue
			}
			return false, err
		}

		if book.Source == domain.SourceFallback {
			r.handleEvent(domain.StatusEvent{
				Type:     domain.EventFeedFallback,
				MarketID: r.intent.MarketID,
				Time:     time.Now(),
			})
		}

		done, rerr := r.ctrl.Reconcile(ctx, book)
		if rerr != nil {
			if ctx.Err() != nil {
				return false, context.Canceled
			}
			failures++
			r.logger.Error("reconcile step failed",
				slog.Int("consecutive", failures),
				slog.String("error", rerr.Error()))
			if failures >= maxConsecutiveFailures {
				return false, fmt.Errorf("engine: %d consecutive failures: %w", failures, rerr)
			}
			if _, werr := r.feed.WaitTopChange(ctx, r.intent.Interval); werr != nil {
				return false, context.Canceled
			}
			continue
		}
		failures = 0

		if done {
			return true, nil
		}

		// Sleep until the top of the book moves or the interval elapses.
		if _, werr := r.feed.WaitTopChange(ctx, r.intent.Interval); werr != nil {
			return false, context.Canceled
		}
	}
}

// summary snapshots the ledger into an ExecutionSummary.
func (r *Runner) summary(completed, interrupted bool) domain.ExecutionSummary {
	base, quote := r.ledger.Totals()
	spent, received := quote, base
	if r.intent.Side == domain.SideSell {
		spent, received = base, quote
	}
	return domain.ExecutionSummary{
		RunID:         r.runID,
		MarketID:      r.intent.MarketID,
		Side:          r.intent.Side,
		Target:        r.intent.TargetAmount,
		TotalSpent:    spent,
		TotalReceived: received,
		AveragePrice:  r.ledger.AveragePrice(),
		Completed:     completed,
		Interrupted:   interrupted,
		StartedAt:     r.startedAt,
		FinishedAt:    time.Now(),
	}
}

// finish reports the summary to every configured sink. All best-effort.
func (r *Runner) finish(summary domain.ExecutionSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	eventType := domain.EventRunCompleted
	if summary.Interrupted {
		eventType = domain.EventRunInterrupt
	}
	r.handleEvent(domain.StatusEvent{
		Type:     eventType,
		MarketID: summary.MarketID,
		Message: fmt.Sprintf("spent=%s received=%s avg=%s completed=%v",
			summary.TotalSpent, summary.TotalReceived, summary.AveragePrice, summary.Completed),
		Time: summary.FinishedAt,
	})

	if r.journal != nil {
		if err := r.journal.FinishRun(ctx, summary); err != nil {
			r.logger.Warn("journal finish failed", slog.String("error", err.Error()))
		}
	}
	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, summary, r.ledger.Fills()); err != nil {
			r.logger.Warn("archive failed", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("run finished",
		slog.String("run_id", summary.RunID),
		slog.Bool("completed", summary.Completed),
		slog.Bool("interrupted", summary.Interrupted),
		slog.String("spent", summary.TotalSpent.String()),
		slog.String("received", summary.TotalReceived.String()),
		slog.String("avg_price", summary.AveragePrice.String()),
	)
}

// handleEvent logs the event and forwards it to the notifier.
func (r *Runner) handleEvent(event domain.StatusEvent) {
	switch event.Type {
	case domain.EventStillBest:
		r.logger.Debug("order still at the front",
			slog.String("order_id", event.OrderID),
			slog.String("price", event.Price.String()))
	case domain.EventFeedFallback:
		r.logger.Debug("working from fallback book")
	default:
		r.logger.Info(string(event.Type),
			slog.String("order_id", event.OrderID),
			slog.String("price", event.Price.String()),
			slog.String("amount", event.Amount.String()))
	}

	if r.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		r.notifier.Notify(ctx, event)
		cancel()
	}
}

// handleFill forwards fills to the journal.
func (r *Runner) handleFill(fill domain.Fill) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.journal.RecordFill(ctx, r.runID, fill); err != nil {
		r.logger.Warn("journal fill failed", slog.String("error", err.Error()))
	}
}

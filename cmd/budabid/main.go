// Command budabid maintains a limit order at the front of a Buda.com order
// book until a target amount has been executed. It loads configuration, wires
// dependencies, sets up signal handling, and runs the requested subcommand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/app"
	"github.com/cmardones/budabid/internal/config"
	"github.com/cmardones/budabid/internal/domain"
)

const usageText = `usage: budabid <command> [flags]

commands:
  buy        maintain a buy order until a quote-currency target is spent
  sell       maintain a sell order until a base-currency target is sold
  balance    show account balances
  orderbook  show the current order book for a market

run "budabid <command> -h" for command flags
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "buy":
		err = runTrade(domain.SideBuy, os.Args[2:])
	case "sell":
		err = runTrade(domain.SideSell, os.Args[2:])
	case "balance":
		err = runBalance(os.Args[2:])
	case "orderbook":
		err = runOrderBook(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// tradeFlags are the flags shared by the buy and sell subcommands.
type tradeFlags struct {
	configPath string
	market     string
	amount     string
	strategy   string
	depthRatio float64
	interval   time.Duration
	dryRun     bool
}

func newTradeFlagSet(name string, tf *tradeFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&tf.configPath, "config", "config.toml", "path to configuration file")
	fs.StringVar(&tf.market, "market", "btc-clp", "market id, e.g. btc-clp")
	fs.StringVar(&tf.amount, "amount", "", "target amount (quote currency for buy, base for sell)")
	fs.StringVar(&tf.strategy, "strategy", "top", "pricing strategy: top or depth")
	fs.Float64Var(&tf.depthRatio, "depth-ratio", 0.5, "book depth fraction for the depth strategy")
	fs.DurationVar(&tf.interval, "interval", 0, "reconciliation interval (default from config)")
	fs.BoolVar(&tf.dryRun, "dry-run", false, "simulate order placement without trading")
	return fs
}

func runTrade(side domain.Side, args []string) error {
	var tf tradeFlags
	fs := newTradeFlagSet(string(side), &tf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if tf.amount == "" {
		return fmt.Errorf("-amount is required")
	}
	target, err := decimal.NewFromString(tf.amount)
	if err != nil || !target.IsPositive() {
		return fmt.Errorf("invalid -amount %q", tf.amount)
	}

	var strategy domain.Strategy
	switch tf.strategy {
	case "top":
		strategy = domain.StrategyTop
	case "depth":
		strategy = domain.StrategyDepth
	default:
		return fmt.Errorf("unknown -strategy %q (valid: top, depth)", tf.strategy)
	}
	if tf.depthRatio <= 0 || tf.depthRatio > 1 {
		return fmt.Errorf("-depth-ratio must be in (0, 1], got %v", tf.depthRatio)
	}

	cfg, logger, err := setup(tf.configPath)
	if err != nil {
		return err
	}
	if !tf.dryRun {
		if err := cfg.RequireCredentials(); err != nil {
			return err
		}
	}

	interval := cfg.Feed.Interval.Duration
	if tf.interval > 0 {
		interval = tf.interval
	}

	intent := domain.OrderIntent{
		MarketID:     tf.market,
		Side:         side,
		TargetAmount: target,
		Strategy:     strategy,
		DepthRatio:   decimal.NewFromFloat(tf.depthRatio),
		Interval:     interval,
		DryRun:       tf.dryRun,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	summary, err := application.Run(ctx, intent)
	printSummary(summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runBalance(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.toml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	balances, err := application.Balances(ctx)
	if err != nil {
		return err
	}

	for _, b := range balances {
		available, err := b.AvailableAmount.Decimal()
		if err != nil {
			continue
		}
		frozen, err := b.FrozenAmount.Decimal()
		if err != nil {
			continue
		}
		if available.IsZero() && frozen.IsZero() {
			continue
		}
		fmt.Printf("%-8s available=%-18s frozen=%s\n", b.ID, available, frozen)
	}
	return nil
}

func runOrderBook(args []string) error {
	var configPath, market string
	var depth int
	fs := flag.NewFlagSet("orderbook", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.toml", "path to configuration file")
	fs.StringVar(&market, "market", "btc-clp", "market id, e.g. btc-clp")
	fs.IntVar(&depth, "depth", 10, "levels to show per side")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	book, err := application.OrderBook(ctx, market)
	if err != nil {
		return err
	}

	fmt.Printf("%s  spread=%s\n", book.MarketID, book.Spread())
	fmt.Printf("%-20s %-20s | %-20s %-20s\n", "bid size", "bid", "ask", "ask size")
	for i := 0; i < depth; i++ {
		var bidSize, bid, ask, askSize string
		if i < len(book.Bids) {
			bidSize = book.Bids[i].Size.String()
			bid = book.Bids[i].Price.String()
		}
		if i < len(book.Asks) {
			ask = book.Asks[i].Price.String()
			askSize = book.Asks[i].Size.String()
		}
		if bid == "" && ask == "" {
			break
		}
		fmt.Printf("%-20s %-20s | %-20s %-20s\n", bidSize, bid, ask, askSize)
	}
	return nil
}

// setup loads and validates configuration and builds the structured logger at
// the configured level.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func printSummary(s domain.ExecutionSummary) {
	status := "completed"
	switch {
	case s.Interrupted:
		status = "interrupted"
	case !s.Completed:
		status = "aborted"
	}
	fmt.Printf("run %s %s\n", s.RunID, status)
	fmt.Printf("  market:    %s (%s)\n", s.MarketID, s.Side)
	fmt.Printf("  target:    %s\n", s.Target)
	fmt.Printf("  spent:     %s\n", s.TotalSpent)
	fmt.Printf("  received:  %s\n", s.TotalReceived)
	fmt.Printf("  avg price: %s\n", s.AveragePrice)
	fmt.Printf("  duration:  %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
}

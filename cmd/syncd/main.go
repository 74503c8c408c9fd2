package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joripage/marketsync-dev/config"
	"github.com/joripage/marketsync-dev/pkg/balance"
	"github.com/joripage/marketsync-dev/pkg/book"
	redis_wrapper "github.com/joripage/marketsync-dev/pkg/infra/redis"
	"github.com/joripage/marketsync-dev/pkg/ledger"
	"github.com/joripage/marketsync-dev/pkg/logging"
	"github.com/joripage/marketsync-dev/pkg/model"
	"github.com/joripage/marketsync-dev/pkg/notify"
	"github.com/joripage/marketsync-dev/pkg/stream"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	logger := logging.Init(logging.INFO)
	defer logger.Sync() // nolint

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("load config fail: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	dec := decoder{priceExp: cfg.PriceExp, sizeExp: cfg.SizeExp}
	notifier := notify.NewNotifier()

	books := book.NewManager()
	books.RegisterUpdateCallback(func(pair string) {
		notifier.Publish(notify.Update{Kind: notify.KindBookUpdated, Pair: pair})
	})

	balances := balance.New()
	orders := ledger.NewLedger(5*time.Minute, 4096)
	// REST collaborator is wired by the venue adapter layer; without it,
	// exhausted lookups go straight to the orphan report.
	reconciler := ledger.NewReconciler(ledger.ReconcilerConfig{}, orders, balances, nil)
	wireNotifications(reconciler, notifier)
	reconciler.Start(ctx)

	backoffCfg := stream.SupervisorConfig{
		BackoffInitial: time.Duration(cfg.BackoffInitialSeconds) * time.Second,
		BackoffMax:     time.Duration(cfg.BackoffMaxSeconds) * time.Second,
	}

	marketSup := startMarketStream(ctx, cfg, backoffCfg, dec, books)
	privateSup := startPrivateStream(ctx, cfg, backoffCfg, dec, reconciler)

	if cfg.Redis != nil {
		rdb, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			zap.S().Fatalw("init redis fail", "err", err)
		}
		prefix := cfg.Redis.ChannelPrefix
		if prefix == "" {
			prefix = cfg.ServiceName
		}
		go notify.NewRedisPublisher(rdb, prefix).Run(ctx, notifier.Subscribe())
	}

	fmt.Println("marketsync started. Press Ctrl+C to exit.")
	<-sigs
	fmt.Println("Shutting down...")

	cancel()
	if marketSup != nil {
		marketSup.Stop()
	}
	if privateSup != nil {
		privateSup.Stop()
	}
	reconciler.Stop()
	notifier.Close()

	fmt.Println("Exited cleanly.")
}

func wireNotifications(reconciler *ledger.Reconciler, notifier *notify.Notifier) {
	reconciler.RegisterOrderCallback(func(rec model.OrderRecord) {
		notifier.Publish(notify.Update{Kind: notify.KindOrderUpdated, Pair: rec.Pair, ClientOrderID: rec.ClientOrderID})
	})
	reconciler.RegisterFillCallback(func(rec model.OrderRecord) {
		// A fill moves funds even when the venue's asset_update lags or
		// drops; nudge balance consumers to refresh.
		notifier.Publish(notify.Update{Kind: notify.KindBalanceUpdated, Pair: rec.Pair})
	})
	reconciler.RegisterBalanceCallback(func(rec balance.Record) {
		notifier.Publish(notify.Update{Kind: notify.KindBalanceUpdated, Currency: rec.Currency})
	})
}

func startMarketStream(ctx context.Context, cfg *config.AppConfig, supCfg stream.SupervisorConfig, dec decoder, books *book.Manager) *stream.Supervisor {
	if cfg.MarketStream == nil {
		return nil
	}
	ws := stream.NewWSStream(*cfg.MarketStream, dec.decodeMarket)
	supCfg.Name = "market"
	sup := stream.NewSupervisor(supCfg, ws)

	sup.OnStreamGap(books.OnStreamGap)
	sup.OnMessage(func(msg model.Message) {
		switch m := msg.(type) {
		case model.Snapshot:
			books.ApplySnapshot(m)
		case model.Diff:
			if err := books.ApplyDiff(m); err != nil {
				if errors.Is(err, book.ErrGapDetected) {
					zap.S().Warnw("book gap, requesting fresh snapshot", "pair", m.Pair, "seq", m.Sequence)
					if rerr := sup.ResubscribeAll(); rerr != nil {
						zap.S().Warnw("resubscribe fail", "err", rerr)
					}
				}
			}
		}
	})

	subs := make([]string, 0, 2*len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		subs = append(subs, "depth_whole_"+pair, "depth_diff_"+pair)
	}
	if err := sup.Start(ctx, subs); err != nil {
		zap.S().Fatalw("start market stream fail", "err", err)
	}
	return sup
}

func startPrivateStream(ctx context.Context, cfg *config.AppConfig, supCfg stream.SupervisorConfig, dec decoder, reconciler *ledger.Reconciler) *stream.Supervisor {
	if cfg.PrivateStream == nil {
		return nil
	}
	ws := stream.NewWSStream(*cfg.PrivateStream, dec.decodePrivate)
	supCfg.Name = "private"
	sup := stream.NewSupervisor(supCfg, ws)

	sup.OnStreamGap(func() {
		// Private continuity is restored through event sequences, not a
		// snapshot; a reconnect only warrants a note.
		zap.S().Warn("private stream reconnected")
	})
	sup.OnMessage(func(msg model.Message) {
		switch m := msg.(type) {
		case model.OrderEvent:
			reconciler.ApplyUpdate(m.Source, m)
		case model.BalanceEvent:
			if err := reconciler.ApplyBalance(m); err != nil {
				zap.S().Warnw("balance apply fail, full refetch required", "currency", m.Currency, "err", err)
			}
		}
	})

	if err := sup.Start(ctx, []string{"spot_order", "asset_update"}); err != nil {
		zap.S().Fatalw("start private stream fail", "err", err)
	}
	return sup
}

// Package agent assembles the video-archive agent: relay subscriptions, the
// job lifecycle, the ops API and the periodic maintenance schedule.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"

	"github.com/varchive/dvm/internal/blossom"
	"github.com/varchive/dvm/internal/cashu"
	"github.com/varchive/dvm/internal/config"
	"github.com/varchive/dvm/internal/dvm"
	"github.com/varchive/dvm/internal/httpapi"
	"github.com/varchive/dvm/internal/payment"
	"github.com/varchive/dvm/internal/pipeline"
	"github.com/varchive/dvm/internal/relaypool"
	"github.com/varchive/dvm/internal/sweeper"
	"github.com/varchive/dvm/internal/tokenstore"
	"github.com/varchive/dvm/internal/ytdlp"
)

// Agent is the assembled service.
type Agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	pool      *relaypool.Pool
	pending   *payment.PendingSet
	sweeper   *sweeper.Sweeper
	scheduler *cron.Cron
	opsServer *http.Server
}

// New wires the agent from its configuration. The config must already be
// validated.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	pubkey, err := nostr.GetPublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	// Job requests are picked up from process start; gift-wrapped DMs are
	// replayed over the look-back window so payments sent while the agent
	// was down still settle their jobs.
	requestsSince := nostr.Now()
	dmSince := nostr.Timestamp(time.Now().Add(-cfg.Nostr.DMLookback).Unix())
	filters := nostr.Filters{
		{
			Kinds: []int{dvm.KindJobRequest},
			Since: &requestsSince,
		},
		{
			Kinds: []int{dvm.KindGiftWrap},
			Tags:  nostr.TagMap{"p": []string{pubkey}},
			Since: &dmSince,
		},
	}

	pool := relaypool.NewPool(cfg.Nostr.Relays, filters, logger)

	publisher, err := dvm.NewPublisher(cfg.PrivateKey, cfg.Nostr.Relays, pool, logger)
	if err != nil {
		return nil, err
	}

	pending := payment.NewPendingSet()
	gate, err := payment.NewGate(publisher, pending, cfg.Payment.MintURL, cfg.Payment.AmountSats, cfg.Nostr.Relays, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := tokenstore.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	blobs := blossom.NewClient(cfg.Blossom.Server, cfg.PrivateKey, logger)
	downloader := ytdlp.NewDownloader(logger)
	runner := pipeline.NewRunner(downloader, blobs, publisher, cfg.Blossom.Server, logger)

	matcher := payment.NewMatcher(pending, cashu.NewMintClient(logger), tokens, publisher, runner, cfg.Payment.AmountSats, logger)

	router := dvm.NewRouter(cfg.PrivateKey, dvm.NewIntake(logger), gate, matcher, logger)
	pool.SetHandler(router.Handle)

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		pending:   pending,
		sweeper:   sweeper.New(blobs, pubkey, cfg.Retention(), logger),
		scheduler: cron.New(),
	}

	if cfg.Ops.Enabled {
		a.opsServer = &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Ops.Port),
			Handler: httpapi.SetupRouter(&httpapi.Dependencies{
				Pending: pending,
				Relays:  pool,
				Logger:  logger,
			}),
			ReadTimeout:  cfg.Ops.ReadTimeout,
			WriteTimeout: cfg.Ops.WriteTimeout,
		}
	}

	return a, nil
}

// Start connects to the relays, launches the maintenance schedule and, when
// enabled, the ops API. It returns once everything is running.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting agent",
		slog.Int("relays", len(a.cfg.Nostr.Relays)),
		slog.String("blossom", a.cfg.Blossom.Server),
		slog.String("mint", a.cfg.Payment.MintURL),
	)

	a.pool.Reconcile(ctx)

	if _, err := a.scheduler.AddFunc("@every 1m", func() {
		a.pool.Reconcile(context.Background())
		a.evictStalePending()
	}); err != nil {
		return fmt.Errorf("failed to schedule relay reconcile: %w", err)
	}

	if _, err := a.scheduler.AddFunc("@every 1h", func() {
		if err := a.sweeper.Sweep(context.Background()); err != nil {
			a.logger.Warn("Blob sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule blob sweep: %w", err)
	}
	// One sweep right away; the agent may have been down past the window.
	go func() {
		if err := a.sweeper.Sweep(ctx); err != nil {
			a.logger.Warn("Blob sweep failed", slog.String("error", err.Error()))
		}
	}()

	a.scheduler.Start()

	if a.opsServer != nil {
		go func() {
			a.logger.Info("Ops API listening", slog.String("addr", a.opsServer.Addr))
			if err := a.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Ops API failed", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

func (a *Agent) evictStalePending() {
	evicted := a.pending.EvictOlderThan(a.cfg.Payment.PendingTTL)
	for _, id := range evicted {
		a.logger.Info("Evicted unpaid job", slog.String("job_id", id))
	}
}

// Stop tears the agent down.
func (a *Agent) Stop(ctx context.Context) {
	a.logger.Info("Stopping agent")

	a.scheduler.Stop()
	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Ops API shutdown failed", slog.String("error", err.Error()))
		}
	}
	a.pool.Close()
}

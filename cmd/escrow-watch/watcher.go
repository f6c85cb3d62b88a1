package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
	"github.com/Quaakee/paragon-escrow-sub001/lookup"
	"github.com/Quaakee/paragon-escrow-sub001/observability/metrics"
)

// Alert kinds raised by the deadline classifier. Each names the protocol
// window an escrow is up against.
const (
	alertDeadlineApproaching = "deadline_approaching"
	alertDeadlineExpired     = "deadline_expired"
	alertUnwindAvailable     = "unwind_available"
	alertDisputeClosing      = "dispute_window_closing"
)

var watchStates = []escrow.State{
	escrow.StateOpen,
	escrow.StateAssigned,
	escrow.StateInProgress,
	escrow.StateCompleted,
	escrow.StateDisputed,
	escrow.StateResolvedApproved,
	escrow.StateResolvedDisputed,
}

var alertKinds = []string{
	alertDeadlineApproaching,
	alertDeadlineExpired,
	alertUnwindAvailable,
	alertDisputeClosing,
}

// noticeStream is the consumable side of an overlay subscription.
type noticeStream interface {
	Next(ctx context.Context) (lookup.Notice, error)
	Close() error
}

// streamDialer opens a notice stream for the given topics.
type streamDialer func(ctx context.Context, topics ...string) (noticeStream, error)

// Watcher polls the overlay for live escrow contracts, gauges them per
// state, and raises deadline alerts against chain time. It also consumes
// the overlay's notice stream so admitted transitions show up in logs and
// metrics as they happen.
type Watcher struct {
	resolver escrow.LookupResolver
	clock    chain.Tracker
	dial     streamDialer
	global   escrow.GlobalConfig
	logger   *slog.Logger
	metrics  *metrics.WatchMetrics

	pollInterval time.Duration
	warnWindow   time.Duration
	backoff      time.Duration
	topics       []string

	ready   atomic.Bool
	alerted map[string]struct{}
}

// NewWatcher constructs a watcher bound to the overlay resolver and chain
// clock. dial may be nil when the overlay offers no subscription stream.
func NewWatcher(resolver escrow.LookupResolver, clock chain.Tracker, dial streamDialer, global escrow.GlobalConfig, cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		resolver:     resolver,
		clock:        clock,
		dial:         dial,
		global:       global,
		logger:       logger,
		metrics:      metrics.Watch(),
		pollInterval: cfg.PollInterval.Duration,
		warnWindow:   cfg.WarnWindow.Duration,
		backoff:      cfg.ReconnectBackoff.Duration,
		topics:       cfg.Topics,
		alerted:      make(map[string]struct{}),
	}
}

// Ready reports whether at least one poll cycle has completed.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// Run starts the polling loop until the context is cancelled. The first
// cycle runs immediately so readiness does not wait a full interval.
func (w *Watcher) Run(ctx context.Context) {
	if w.resolver == nil || w.clock == nil {
		return
	}
	w.warmMetrics()
	interval := w.pollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	w.poll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	started := time.Now()
	stats, err := w.pollOnce(ctx)
	if err != nil {
		w.metrics.ObservePollCycle("error", time.Since(started))
		w.logger.Error("overlay poll failed", slog.String("error", err.Error()))
		return
	}
	w.ready.Store(true)
	w.metrics.ObservePollCycle("ok", time.Since(started))
	w.logger.Info("overlay poll complete",
		slog.Uint64("height", uint64(stats.Tip.Height)),
		slog.Int("contracts", stats.Contracts),
		slog.Int("alerts", len(stats.Alerts)))
}

type deadlineAlert struct {
	Kind     string
	Outpoint escrow.Outpoint
	State    escrow.State
	Deadline uint64
}

type pollStats struct {
	Tip       chain.Time
	Contracts int
	PerState  map[escrow.State]int
	Alerts    []deadlineAlert
}

// pollOnce queries the overlay once, refreshes the per-state gauges, and
// raises any deadline alerts not already raised for the same outpoint. The
// alert memory is pruned as escrows leave the index, so an escrow advancing
// under a new outpoint alerts afresh.
func (w *Watcher) pollOnce(ctx context.Context) (pollStats, error) {
	tip, err := w.clock.Now(ctx)
	if err != nil {
		return pollStats{}, fmt.Errorf("chain time: %w", err)
	}
	answer, err := w.resolver.Query(ctx, escrow.LookupQuestion{Service: escrow.LookupService})
	if err != nil {
		return pollStats{}, fmt.Errorf("query overlay: %w", err)
	}
	txs := escrow.RecordsFromAnswer(answer)
	stats := pollStats{Tip: tip, Contracts: len(txs), PerState: make(map[escrow.State]int, len(watchStates))}
	live := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		stats.PerState[tx.Record.State]++
		for _, kind := range deadlineKinds(tx.Record, tip, w.warnSecs(), w.global) {
			key := tx.Outpoint.String() + "/" + kind
			live[key] = struct{}{}
			if _, raised := w.alerted[key]; raised {
				continue
			}
			w.alerted[key] = struct{}{}
			stats.Alerts = append(stats.Alerts, deadlineAlert{
				Kind:     kind,
				Outpoint: tx.Outpoint,
				State:    tx.Record.State,
				Deadline: tx.Record.Deadline,
			})
		}
	}
	for key := range w.alerted {
		if _, ok := live[key]; !ok {
			delete(w.alerted, key)
		}
	}

	w.metrics.SetChainHeight(uint64(tip.Height))
	for _, state := range watchStates {
		w.metrics.SetContracts(state.String(), stats.PerState[state])
	}
	for _, alert := range stats.Alerts {
		w.metrics.IncDeadlineAlert(alert.Kind)
		w.logger.Warn("escrow deadline alert",
			slog.String("reason", alert.Kind),
			slog.String("outpoint", alert.Outpoint.String()),
			slog.String("state", alert.State.String()),
			slog.Uint64("deadline", alert.Deadline))
	}
	return stats, nil
}

// deadlineKinds classifies which protocol windows an escrow is up against
// at the given chain time. warnSecs widens each gate with an early-warning
// band. Resolved and disputed escrows wait on parties, not the clock, so
// they never alert.
func deadlineKinds(rec *escrow.Record, tip chain.Time, warnSecs uint64, global escrow.GlobalConfig) []string {
	if rec == nil {
		return nil
	}
	var kinds []string
	switch rec.State {
	case escrow.StateOpen, escrow.StateAssigned, escrow.StateInProgress:
		if rec.Deadline > 0 {
			if tip.MedianTime > rec.Deadline {
				kinds = append(kinds, alertDeadlineExpired)
			} else if rec.Deadline-tip.MedianTime <= warnSecs {
				kinds = append(kinds, alertDeadlineApproaching)
			}
		}
		if rec.State == escrow.StateAssigned && rec.AcceptedAt > 0 {
			unlock := rec.AcceptedAt + global.UnwindDelaySecs
			if unlock >= rec.AcceptedAt && tip.MedianTime >= unlock {
				kinds = append(kinds, alertUnwindAvailable)
			}
		}
	case escrow.StateCompleted:
		if rec.CompletedAt > 0 {
			window := rec.CompletedAt + global.DisputeWindowSecs
			if window >= rec.CompletedAt && tip.MedianTime <= window && window-tip.MedianTime <= warnSecs {
				kinds = append(kinds, alertDisputeClosing)
			}
		}
	}
	return kinds
}

func (w *Watcher) warnSecs() uint64 {
	if w.warnWindow <= 0 {
		return 0
	}
	return uint64(w.warnWindow / time.Second)
}

func (w *Watcher) warmMetrics() {
	for _, state := range watchStates {
		w.metrics.InitContractState(state.String())
	}
	for _, kind := range alertKinds {
		w.metrics.InitDeadlineKind(kind)
	}
	for _, topic := range w.topics {
		w.metrics.InitTopic(topic)
	}
}

// RunStream consumes the overlay notice stream until the context is
// cancelled, re-dialling with backoff after drops.
func (w *Watcher) RunStream(ctx context.Context) {
	if w.dial == nil {
		return
	}
	backoff := w.backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := w.dial(ctx, w.topics...)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("overlay stream dial failed", slog.String("error", err.Error()))
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}
		if !first {
			w.metrics.IncStreamReconnect()
		}
		first = false
		w.consume(ctx, stream)
		_ = stream.Close()
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

func (w *Watcher) consume(ctx context.Context, stream noticeStream) {
	for {
		notice, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("overlay stream interrupted", slog.String("error", err.Error()))
			}
			return
		}
		w.metrics.IncNotice(notice.Topic)
		w.logger.Info("overlay notice",
			slog.String("topic", notice.Topic),
			slog.String("txid", notice.TxID),
			slog.Uint64("vout", uint64(notice.Vout)),
			slog.String("state", notice.State),
			slog.String("method", notice.Method))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

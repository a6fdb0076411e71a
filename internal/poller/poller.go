// Package poller runs the inbox polling loop.
//
// The relay holds signaling messages until they are fetched; this loop is the
// only consumer. Each fetched message is dispatched to at most one per-message
// handler by kind, in its own goroutine, so a slow negotiation step never
// stalls the next poll tick. Batch handlers instead observe every successful
// cycle as a whole, including empty ones, which lets the consent moderator
// rebuild its working set from scratch each cycle.
package poller

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/screenlink/screenlink/internal/api"
	"github.com/screenlink/screenlink/internal/metrics"
	"github.com/screenlink/screenlink/internal/signal"
)

// DefaultInterval matches the cadence the relay is provisioned for.
const DefaultInterval = 1 * time.Second

// InboxFetcher drains the caller's inbox on the relay.
type InboxFetcher interface {
	Inbox(ctx context.Context) ([]signal.Message, error)
}

// Handler consumes individual messages of the kinds it declares. Each call
// runs in its own goroutine.
type Handler interface {
	Kinds() []signal.Kind
	HandleMessage(ctx context.Context, msg signal.Message)
}

// BatchHandler consumes one whole poll cycle at a time. The slice holds the
// cycle's messages of the declared kinds, and may be empty; an empty cycle is
// still delivered so the handler can observe absence.
type BatchHandler interface {
	Kinds() []signal.Kind
	HandleBatch(ctx context.Context, msgs []signal.Message)
}

// Config for a Poller. Fetcher is required.
type Config struct {
	Fetcher  InboxFetcher
	Interval time.Duration // defaults to DefaultInterval
	// Jitter widens each sleep by a random amount in [0, Jitter) so restarted
	// fleets don't hit the relay in lockstep.
	Jitter  time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// OnAuthExpired fires once per failed cycle when the relay rejects the
	// credential. The loop keeps running; the host decides whether to exit.
	OnAuthExpired func()
}

// Poller drains the inbox on a timer and fans messages out to handlers.
type Poller struct {
	cfg      Config
	logger   *slog.Logger
	handlers map[signal.Kind]Handler
	batchers []batchSub
}

type batchSub struct {
	kinds   map[signal.Kind]bool
	handler BatchHandler
}

func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[signal.Kind]Handler),
	}
}

// Register routes the handler's declared kinds to it. A kind routes to at
// most one per-message handler; a duplicate registration panics because it is
// a wiring bug, not a runtime condition.
func (p *Poller) Register(h Handler) {
	for _, k := range h.Kinds() {
		if _, dup := p.handlers[k]; dup {
			panic("poller: duplicate handler for kind " + string(k))
		}
		p.handlers[k] = h
	}
}

// RegisterBatch subscribes the handler to whole poll cycles filtered to its
// declared kinds. Batch subscriptions are independent of per-message routing.
func (p *Poller) RegisterBatch(h BatchHandler) {
	kinds := make(map[signal.Kind]bool, len(h.Kinds()))
	for _, k := range h.Kinds() {
		kinds[k] = true
	}
	p.batchers = append(p.batchers, batchSub{kinds: kinds, handler: h})
}

// Run polls until ctx is canceled. Cancellation stops future ticks; in-flight
// per-message handlers are not awaited.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("inbox poller started", "interval", p.cfg.Interval)
	for {
		p.cycle(ctx)

		sleep := p.cfg.Interval
		if p.cfg.Jitter > 0 {
			sleep += rand.N(p.cfg.Jitter)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("inbox poller stopped", "reason", ctx.Err())
			return
		case <-time.After(sleep):
		}
	}
}

// cycle fetches once and dispatches. Fetch failures are logged and absorbed;
// the only failure with a side effect beyond logging is credential rejection,
// which additionally fires OnAuthExpired.
func (p *Poller) cycle(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := p.logger.With("cycle", cycleID)

	msgs, err := p.cfg.Fetcher.Inbox(ctx)
	if err != nil {
		p.cfg.Metrics.Inc(metrics.EventPollError)
		if api.IsAuth(err) {
			p.cfg.Metrics.Inc(metrics.EventAuthExpired)
			logger.Warn("credential rejected by relay", "error", err)
			if p.cfg.OnAuthExpired != nil {
				p.cfg.OnAuthExpired()
			}
			return
		}
		logger.Warn("inbox fetch failed", "error", err)
		return
	}
	p.cfg.Metrics.Inc(metrics.EventPollCycle)
	if len(msgs) > 0 {
		logger.Debug("inbox drained", "messages", len(msgs))
	}

	batches := make([][]signal.Message, len(p.batchers))
	for i := range batches {
		batches[i] = []signal.Message{}
	}

	for _, msg := range msgs {
		p.cfg.Metrics.Inc(metrics.MessageEvent(msg.Type))
		for i, sub := range p.batchers {
			if sub.kinds[msg.Type] {
				batches[i] = append(batches[i], msg)
			}
		}
		h, ok := p.handlers[msg.Type]
		if !ok {
			if !p.batched(msg.Type) {
				p.cfg.Metrics.Inc(metrics.DropReasonUnknownKind)
				logger.Warn("dropping message of unknown kind",
					"kind", msg.Type, "from", msg.FromUserID)
			}
			continue
		}
		go h.HandleMessage(ctx, msg)
	}

	for i, sub := range p.batchers {
		go sub.handler.HandleBatch(ctx, batches[i])
	}
}

func (p *Poller) batched(kind signal.Kind) bool {
	for _, sub := range p.batchers {
		if sub.kinds[kind] {
			return true
		}
	}
	return false
}

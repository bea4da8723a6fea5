// Package relaypool maintains the agent's relay connections: one long-lived
// subscription per configured endpoint, periodic re-dialing of endpoints that
// dropped, and best-effort fan-out of signed events.
package relaypool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Handler consumes one inbound event. It must be safe for concurrent use:
// every connection drains into it from its own goroutine.
type Handler func(ctx context.Context, ev *nostr.Event)

// subscription is the drainable half of a relay subscription.
type subscription interface {
	Events() <-chan *nostr.Event
	Unsub()
}

// connection abstracts one relay link so reconnection and broadcast logic
// can be tested without sockets.
type connection interface {
	Subscribe(ctx context.Context, filters nostr.Filters) (subscription, error)
	Publish(ctx context.Context, ev nostr.Event) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (connection, error)

type relayConn struct {
	relay *nostr.Relay
}

func (c *relayConn) Subscribe(ctx context.Context, filters nostr.Filters) (subscription, error) {
	sub, err := c.relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, err
	}
	return &relaySub{sub: sub}, nil
}

func (c *relayConn) Publish(ctx context.Context, ev nostr.Event) error {
	return c.relay.Publish(ctx, ev)
}

func (c *relayConn) Close() error { return c.relay.Close() }

type relaySub struct {
	sub *nostr.Subscription
}

func (s *relaySub) Events() <-chan *nostr.Event { return s.sub.Events }
func (s *relaySub) Unsub()                      { s.sub.Unsub() }

func dialRelay(ctx context.Context, url string) (connection, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &relayConn{relay: relay}, nil
}

// EndpointStatus reports one configured endpoint's connection state.
type EndpointStatus struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
}

type managed struct {
	conn connection
	sub  subscription
}

// Pool owns the configured relay set. Reconcile is the only path that dials
// configured endpoints; drain goroutines only mark their endpoint dead, so a
// relay flapping mid-cycle never races a redial.
type Pool struct {
	urls    []string
	filters nostr.Filters
	dial    dialFunc
	logger  *slog.Logger

	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handler Handler
	conns   map[string]*managed

	wg sync.WaitGroup
}

// NewPool creates a pool over the configured relay urls. Nothing is dialed
// until the first Reconcile.
func NewPool(urls []string, filters nostr.Filters, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		urls:    urls,
		filters: filters,
		dial:    dialRelay,
		logger:  logger,
		runCtx:  ctx,
		cancel:  cancel,
		conns:   make(map[string]*managed),
	}
}

// SetHandler installs the inbound event handler. Must be called before the
// first Reconcile.
func (p *Pool) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Reconcile dials every configured endpoint that is not currently connected
// and subscribes it with the pool's filters. Endpoint failures are isolated:
// one unreachable relay never blocks the others, and the next cycle retries
// it.
func (p *Pool) Reconcile(ctx context.Context) {
	for _, url := range p.urls {
		if p.connected(url) {
			continue
		}

		conn, err := p.dial(ctx, url)
		if err != nil {
			p.logger.Warn("Failed to connect to relay",
				slog.String("relay", url),
				slog.String("error", err.Error()),
			)
			continue
		}

		sub, err := conn.Subscribe(p.runCtx, p.filters)
		if err != nil {
			p.logger.Warn("Failed to subscribe to relay",
				slog.String("relay", url),
				slog.String("error", err.Error()),
			)
			conn.Close()
			continue
		}

		p.mu.Lock()
		p.conns[url] = &managed{conn: conn, sub: sub}
		p.mu.Unlock()

		p.wg.Add(1)
		go p.drain(url, sub)

		p.logger.Info("Subscribed to relay", slog.String("relay", url))
	}
}

// drain feeds one subscription into the handler until the relay closes it.
func (p *Pool) drain(url string, sub subscription) {
	defer p.wg.Done()

	for ev := range sub.Events() {
		p.mu.Lock()
		handler := p.handler
		p.mu.Unlock()
		if handler != nil {
			handler(p.runCtx, ev)
		}
	}

	p.disconnect(url)
	p.logger.Warn("Relay subscription closed", slog.String("relay", url))
}

// Broadcast publishes the event to every url, using the live connection for
// configured endpoints and an ad-hoc dial for the rest. Failures are logged
// per endpoint; delivery to at least one relay is all the protocol needs.
func (p *Pool) Broadcast(ctx context.Context, urls []string, ev nostr.Event) {
	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := p.publishTo(ctx, url, ev); err != nil {
				p.logger.Warn("Failed to publish event",
					slog.String("relay", url),
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}(url)
	}
	wg.Wait()
}

func (p *Pool) publishTo(ctx context.Context, url string, ev nostr.Event) error {
	p.mu.Lock()
	entry, ok := p.conns[url]
	p.mu.Unlock()

	if ok {
		return entry.conn.Publish(ctx, ev)
	}

	conn, err := p.dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Publish(ctx, ev)
}

// Status reports every configured endpoint's connection state, in the
// configured order.
func (p *Pool) Status() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EndpointStatus, 0, len(p.urls))
	for _, url := range p.urls {
		_, ok := p.conns[url]
		out = append(out, EndpointStatus{URL: url, Connected: ok})
	}
	return out
}

func (p *Pool) connected(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[url]
	return ok
}

// disconnect drops the endpoint from the live set so the next Reconcile
// redials it.
func (p *Pool) disconnect(url string) {
	p.mu.Lock()
	entry, ok := p.conns[url]
	if ok {
		delete(p.conns, url)
	}
	p.mu.Unlock()

	if ok {
		entry.conn.Close()
	}
}

// Close tears down every connection and waits for the drain goroutines.
func (p *Pool) Close() {
	p.cancel()

	p.mu.Lock()
	conns := make([]*managed, 0, len(p.conns))
	for url, entry := range p.conns {
		conns = append(conns, entry)
		delete(p.conns, url)
	}
	p.mu.Unlock()

	for _, entry := range conns {
		entry.sub.Unsub()
		entry.conn.Close()
	}
	p.wg.Wait()
}

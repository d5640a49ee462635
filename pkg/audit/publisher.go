package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Store is the sink a publisher drains into.
type Store interface {
	Append(ctx context.Context, e Event) error
}

// Publisher emits audit events, synchronously by default or through a
// buffered channel worker when async mode is enabled. Emission never fails
// the operation being audited: a full buffer drops the event with a log
// line.
type Publisher struct {
	store  Store
	logger *slog.Logger

	inbox  chan Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer switches to asynchronous emission with the given buffer
// size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			// Drain what is already buffered before exiting.
			for {
				select {
				case e := <-p.inbox:
					p.append(e)
				default:
					return
				}
			}
		case e := <-p.inbox:
			p.append(e)
		}
	}
}

func (p *Publisher) append(e Event) {
	if err := p.store.Append(context.Background(), e); err != nil {
		p.logger.Warn("audit append failed",
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Emit records one event. In async mode a full buffer drops the event
// rather than blocking the audited operation.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if p.inbox == nil {
		return p.store.Append(ctx, e)
	}
	select {
	case p.inbox <- e:
	default:
		p.logger.Warn("audit buffer full, dropping event", slog.String("kind", string(e.Kind)))
	}
	return nil
}

// Close stops the worker after draining buffered events.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}

package events

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 5 * time.Second

// Sink receives events from the Notifier's delivery goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Publisher is what request handlers depend on.
type Publisher interface {
	Notify(e Event)
}

// Notifier fans events out to sinks on a single background goroutine.
// Notify never blocks: when the buffer is full the event is dropped and
// counted.
type Notifier struct {
	ch          chan Event
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration
	onDrop      func(Type)
	dropped     atomic.Int64
}

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithDropHook registers fn to be called for every dropped event.
func WithDropHook(fn func(Type)) NotifierOption {
	return func(n *Notifier) {
		n.onDrop = fn
	}
}

// WithSinkTimeout bounds how long a single sink may take per event.
func WithSinkTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.sinkTimeout = d
	}
}

// NewNotifier creates a notifier with room for bufferSize pending events.
func NewNotifier(bufferSize int, logger *zap.Logger, sinks []Sink, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		ch:          make(chan Event, bufferSize),
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify queues e for delivery.
func (n *Notifier) Notify(e Event) {
	select {
	case n.ch <- e:
	default:
		n.dropped.Add(1)
		if n.onDrop != nil {
			n.onDrop(e.Type)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Run delivers events until ctx is cancelled, then flushes whatever is still
// buffered and returns.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case e := <-n.ch:
			n.dispatch(e)
		case <-ctx.Done():
			n.drain()
			return nil
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case e := <-n.ch:
			n.dispatch(e)
		default:
			return
		}
	}
}

func (n *Notifier) dispatch(e Event) {
	for _, s := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), n.sinkTimeout)
		if err := s.Handle(ctx, e); err != nil {
			n.logger.Warn("event sink failed",
				zap.String("sink", s.Name()),
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

var _ Publisher = (*Notifier)(nil)

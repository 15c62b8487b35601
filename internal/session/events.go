package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/domain"
)

const DefaultEventBuffer = 64

// Subscription is the receiving end of an event subscription. C is closed
// when the subscription or the session ends.
type Subscription struct {
	C <-chan domain.Event

	id  int64
	bus *eventBus
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.bus != nil {
		s.bus.unsubscribe(s.id)
	}
}

type subscriber struct {
	c     chan domain.Event
	fn    func(domain.Event)
	types map[domain.EventType]bool
}

func (s *subscriber) wants(t domain.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// eventBus delivers events on its own goroutine, in publish order. Handlers
// may call back into the controller. Channel subscribers that fall behind
// lose events rather than stall the others.
type eventBus struct {
	log *zap.Logger

	mu      sync.Mutex
	queue   []domain.Event
	seq     int64
	closing bool
	notify  chan struct{}
	done    chan struct{}

	subsMu sync.RWMutex
	subs   map[int64]*subscriber
	nextID int64
	closed bool
}

func newEventBus(log *zap.Logger) *eventBus {
	b := &eventBus{
		log:    log,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   make(map[int64]*subscriber),
	}
	go b.loop()
	return b
}

func (b *eventBus) publish(e domain.Event) {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.seq++
	e.ID = b.seq
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// close lets queued events drain, then closes every subscription.
func (b *eventBus) close() {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *eventBus) loop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		closing := b.closing
		b.mu.Unlock()

		for _, e := range batch {
			b.deliver(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			b.shutdown()
			return
		}
		<-b.notify
	}
}

func (b *eventBus) deliver(e domain.Event) {
	b.subsMu.RLock()
	var handlers []func(domain.Event)
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		if s.fn != nil {
			handlers = append(handlers, s.fn)
			continue
		}
		select {
		case s.c <- e:
		default:
			b.log.Debug("dropping event for slow subscriber", zap.String("type", e.Type.String()))
		}
	}
	b.subsMu.RUnlock()

	for _, fn := range handlers {
		b.call(fn, e)
	}
}

func (b *eventBus) call(fn func(domain.Event), e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("type", e.Type.String()), zap.Any("panic", r))
		}
	}()
	fn(e)
}

func (b *eventBus) shutdown() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		if s.c != nil {
			close(s.c)
		}
		delete(b.subs, id)
	}
}

func (b *eventBus) add(s *subscriber) (int64, bool) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if b.closed {
		return 0, false
	}
	b.nextID++
	b.subs[b.nextID] = s
	return b.nextID, true
}

func (b *eventBus) subscribe(buf int, types ...domain.EventType) *Subscription {
	if buf <= 0 {
		buf = DefaultEventBuffer
	}
	s := &subscriber{c: make(chan domain.Event, buf), types: typeSet(types)}
	id, ok := b.add(s)
	if !ok {
		close(s.c)
		return &Subscription{C: s.c}
	}
	return &Subscription{C: s.c, id: id, bus: b}
}

func (b *eventBus) on(fn func(domain.Event), types ...domain.EventType) func() {
	id, ok := b.add(&subscriber{fn: fn, types: typeSet(types)})
	if !ok {
		return func() {}
	}
	return func() { b.unsubscribe(id) }
}

func (b *eventBus) unsubscribe(id int64) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	if s.c != nil {
		close(s.c)
	}
}

func typeSet(types []domain.EventType) map[domain.EventType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

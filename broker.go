// Provides change notifications for committed transactions.

package deeb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/query"
)

// EventKind is the kind of a committed change.
type EventKind int

const (
	Inserted EventKind = iota + 1
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a committed change to one document.
type Event struct {
	TxID   string
	Entity string
	Kind   EventKind
	// Document is the document after the change, or the removed document for
	// Deleted.
	Document *document.Document
	// Previous is the document before an update.
	Previous *document.Document
}

// Subscription receives the events of one entity matching a query.
//
// Delivery never blocks a commit: when C is full the event is dropped and
// counted.
type Subscription struct {
	C <-chan Event

	b       *broker
	entity  string
	q       query.Query
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns the number of events lost because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.ch)
	})
}

func (s *Subscription) wants(c *change) bool {
	if c.entity != s.entity {
		return false
	}
	return s.q.Match(c.doc) || (c.prev != nil && s.q.Match(c.prev))
}

type broker struct {
	log  *slog.Logger
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscribe delivers committed changes of entity whose document matches q,
// before or after the change. buffer is the capacity of the channel, 64 when
// not positive.
//
// Queries on associations are rejected since joins are not evaluated on
// events.
func (db *Deeb) Subscribe(e *Entity, q query.Query, buffer int) (*Subscription, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrConfiguration)
	}
	if _, _, err := db.resolve(e.Name); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, classify(err)
	}
	if len(q.Targets()) != 0 {
		return nil, fmt.Errorf("%w: subscriptions cannot use associations", ErrInvalidQuery)
	}
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, b: &db.broker, entity: e.Name, q: q, ch: ch}
	db.broker.mu.Lock()
	if db.broker.subs == nil {
		db.broker.subs = map[*Subscription]struct{}{}
	}
	db.broker.subs[s] = struct{}{}
	db.broker.mu.Unlock()
	return s, nil
}

func (b *broker) publish(ctx context.Context, txID string, changes []change) {
	if len(changes) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range changes {
		c := &changes[i]
		for s := range b.subs {
			if !s.wants(c) {
				continue
			}
			ev := Event{TxID: txID, Entity: c.entity, Kind: c.kind, Document: c.doc.Clone()}
			if c.prev != nil {
				ev.Previous = c.prev.Clone()
			}
			select {
			case s.ch <- ev:
			default:
				s.dropped.Add(1)
				b.log.WarnContext(ctx, "Dropped change event", "tx", txID, "entity", c.entity, "kind", c.kind.String())
			}
		}
	}
}

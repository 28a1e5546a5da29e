package task

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Collection names a persisted task collection.
type Collection string

const (
	CollectionActive  Collection = "active"
	CollectionStopped Collection = "stopped"
)

// Change is published after a collection has been written.
type Change struct {
	Collection Collection `json:"collection"`
	At         time.Time  `json:"at"`
}

const subscriberBuffer = 64

// notifier fans changes out to subscribers without ever blocking a writer.
// A subscriber whose buffer is full misses the change.
type notifier struct {
	mu   sync.RWMutex
	subs map[int]chan Change
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Change)}
}

func (n *notifier) subscribe(fn func(Change)) func() {
	ch := make(chan Change, subscriberBuffer)
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	go func() {
		for change := range ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("task change subscriber panicked")
					}
				}()
				fn(change)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *notifier) publish(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

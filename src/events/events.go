// Package events implements the in-process event bus. It is the
// authoritative contract for client-side pending-transaction tracking:
// every admitted transaction eventually produces exactly one of
// tx_confirmed or tx_failed.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind ...
type Kind string

// Event kinds.
const (
	TxAccepted   Kind = "tx_accepted"
	TxConfirmed  Kind = "tx_confirmed"
	TxFailed     Kind = "tx_failed"
	BlockCreated Kind = "block_created"
)

// Event is delivered to subscribers. Fields are populated per kind.
type Event struct {
	Kind Kind `json:"kind"`

	TxID   string `json:"tx_id,omitempty"`
	Reason string `json:"reason,omitempty"`

	BlockHeight uint64 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
}

type subscriber struct {
	id int
	ch chan Event
}

// Bus fans events out to live subscribers. Delivery is at-least-once for
// subscribers that keep up; a subscriber that stops draining its channel
// loses events rather than blocking the publisher.
type Bus struct {
	sync.Mutex

	logger *logrus.Entry
	subs   map[int]*subscriber
	nextID int
}

// NewBus ...
func NewBus(logger *logrus.Entry) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its id and receive channel.
func (b *Bus) Subscribe(buffer int) (int, <-chan Event) {
	b.Lock()
	defer b.Unlock()

	if buffer <= 0 {
		buffer = 64
	}

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Event, buffer)}
	b.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.Lock()
	defer b.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	b.Lock()
	defer b.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			if b.logger != nil {
				b.logger.WithFields(logrus.Fields{
					"subscriber": sub.id,
					"kind":       evt.Kind,
				}).Warn("Dropping event for slow subscriber")
			}
		}
	}
}

// PublishTxAccepted ...
func (b *Bus) PublishTxAccepted(txID string) {
	b.Publish(Event{Kind: TxAccepted, TxID: txID})
}

// PublishTxConfirmed ...
func (b *Bus) PublishTxConfirmed(txID string, height uint64, blockHash string) {
	b.Publish(Event{Kind: TxConfirmed, TxID: txID, BlockHeight: height, BlockHash: blockHash})
}

// PublishTxFailed ...
func (b *Bus) PublishTxFailed(txID string, reason string) {
	b.Publish(Event{Kind: TxFailed, TxID: txID, Reason: reason})
}

// PublishBlockCreated ...
func (b *Bus) PublishBlockCreated(height uint64, blockHash string) {
	b.Publish(Event{Kind: BlockCreated, BlockHeight: height, BlockHash: blockHash})
}

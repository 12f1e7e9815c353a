// Package events fans cluster mutations (pod and node adds/updates/deletes) out
// to scheduler subscribers. Each subscriber gets its own bounded channel; a slow
// subscriber drops its oldest buffered event rather than blocking the producer,
// matching spec.md §4.1's informer-style delivery model where queue health must
// never depend on consumer speed.
package events

import (
	"sync"

	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/sirupsen/logrus"
)

// Envelope is one delivered cluster mutation.
type Envelope struct {
	Event framework.ClusterEvent
	Inner framework.EventInner
}

// DefaultBufferSize bounds each subscriber's channel. Past this, Broker starts
// dropping the oldest unread event for that subscriber.
const DefaultBufferSize = 1024

type subscriber struct {
	ch   chan Envelope
	name string
}

// Broker is a multi-producer, single-consumer-per-subscription event fan-out.
type Broker struct {
	mu          sync.Mutex
	subscribers []*subscriber
	bufferSize  int
}

func New() *Broker {
	return &Broker{bufferSize: DefaultBufferSize}
}

// Subscribe registers a new consumer and returns its delivery channel. name
// identifies the subscriber in drop-warning logs.
func (b *Broker) Subscribe(name string) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{ch: make(chan Envelope, b.bufferSize), name: name}
	b.subscribers = append(b.subscribers, s)
	return s.ch
}

// Publish delivers env to every subscriber. It never blocks: a full subscriber
// channel has its oldest entry discarded to make room.
func (b *Broker) Publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		select {
		case s.ch <- env:
		default:
			select {
			case old := <-s.ch:
				logrus.WithFields(logrus.Fields{
					"subscriber":  s.name,
					"dropped_for": old.Event.Resource,
				}).Warn("event broker dropped oldest buffered event for slow subscriber")
			default:
			}
			select {
			case s.ch <- env:
			default:
				// Another publisher raced us and refilled the slot; drop this one
				// rather than block, preserving the never-block guarantee.
			}
		}
	}
}

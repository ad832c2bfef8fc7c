package device

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EventType tells an attach from a detach.
type EventType int

const (
	Attached EventType = iota
	Detached
)

func (t EventType) String() string {
	switch t {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Event is fired whenever a device appears or disappears.
type Event struct {
	Type   EventType
	Handle Handle
}

// SkipFunc reports whether a poll should be skipped, e.g. while a session is open.
type SkipFunc func() bool

// Monitor turns periodic enumeration into attach/detach events.
type Monitor struct {
	enumerator Enumerator
	interval   time.Duration
	skip       SkipFunc
}

// NewMonitor creates a monitor polling enumerator every interval. skip may be nil.
func NewMonitor(enumerator Enumerator, interval time.Duration, skip SkipFunc) *Monitor {
	if skip == nil {
		skip = func() bool { return false }
	}

	return &Monitor{
		enumerator: enumerator,
		interval:   interval,
		skip:       skip,
	}
}

// Subscribe starts polling and delivers events to sink until the subscription is
// dropped. Devices present at the first poll are reported as attached. An
// enumeration error ends the subscription and is delivered on Err().
func (m *Monitor) Subscribe(sink chan<- Event) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		known := make(map[Handle]struct{})

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			if !m.skip() {
				handles, err := m.enumerator.Devices()
				if err != nil {
					return err
				}

				for _, ev := range diff(known, handles) {
					select {
					case sink <- ev:
					case <-quit:
						return nil
					}
				}
			}

			select {
			case <-ticker.C:
			case <-quit:
				return nil
			}
		}
	})
}

// AwaitDevice blocks until the first attach event and returns its handle. It has
// no timeout of its own; only ctx ends the wait early.
func (m *Monitor) AwaitDevice(ctx context.Context) (Handle, error) {
	sink := make(chan Event)
	sub := m.Subscribe(sink)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-sink:
			if ev.Type != Attached || ev.Handle == "" {
				continue
			}

			log.Info().Str("device", string(ev.Handle)).Msg("Device attached")
			return ev.Handle, nil
		case err := <-sub.Err():
			return "", errors.Wrapf(ErrDeviceDiscovery, "enumerate devices: %v", err)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// diff updates known to the current set and returns the resulting events.
func diff(known map[Handle]struct{}, current []Handle) []Event {
	var events []Event

	seen := make(map[Handle]struct{}, len(current))
	for _, h := range current {
		seen[h] = struct{}{}
		if _, ok := known[h]; !ok {
			known[h] = struct{}{}
			events = append(events, Event{Type: Attached, Handle: h})
		}
	}

	for h := range known {
		if _, ok := seen[h]; !ok {
			delete(known, h)
			events = append(events, Event{Type: Detached, Handle: h})
		}
	}

	return events
}

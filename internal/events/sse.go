package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges callback subscriptions to a channel for the SSE
// handlers, which select over a single channel. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

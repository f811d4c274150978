package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Dispatcher fans notifications out to configured channels. Delivery is best
// effort: a failing channel is logged and never fails the dispatch, and one
// slow channel does not block the others.
type Dispatcher struct {
	senders []Sender
}

// NewDispatcher creates a dispatcher over a set of channel senders
func NewDispatcher(senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
	}
}

// Senders returns the IDs of all configured channels
func (d *Dispatcher) Senders() []string {
	return lo.Map(d.senders, func(s Sender, _ int) string {
		return s.ID()
	})
}

// Dispatch delivers one payload to the named channels, or to every channel
// when channels is nil or empty. Unknown channel IDs are logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload, channels []string) {
	targets := d.senders
	if len(channels) > 0 {
		known := lo.SliceToMap(d.senders, func(s Sender) (string, Sender) {
			return s.ID(), s
		})
		targets = targets[:0:0]
		for _, id := range channels {
			sender, ok := known[id]
			if !ok {
				log.Warn().Str("channel", id).Msg("Skipping unknown notification channel")
				continue
			}
			targets = append(targets, sender)
		}
	}

	if len(targets) == 0 {
		log.Debug().Msg("No notification channels to dispatch to")
		return
	}

	var wg sync.WaitGroup
	for _, sender := range targets {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			if err := s.Send(ctx, payload); err != nil {
				log.Error().Err(err).Str("channel", s.ID()).Msg("Failed to deliver notification")
			}
		}(sender)
	}
	wg.Wait()
}

// DispatchAll delivers a batch of targeted notifications in order
func (d *Dispatcher) DispatchAll(ctx context.Context, notifications []TargetedNotification) {
	for _, n := range notifications {
		if ctx.Err() != nil {
			return
		}
		d.Dispatch(ctx, n.Payload, n.Channels)
	}
}

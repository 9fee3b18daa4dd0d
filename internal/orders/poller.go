// Package orders drives the fulfillment lifecycle: a resumable poll loop
// over the vendor's change feed and a per-order state machine that issues
// the confirm/process/deliver/complete transitions.
package orders

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/omas-app/omas-vendor-go/internal/models"
)

// ChangeFeed is the slice of the vendor API the poller consumes.
type ChangeFeed interface {
	PollOrders(ctx context.Context, parent, pageToken string) (*models.PollOrdersResponse, error)
}

// CursorPersistence is the durable cursor record the poller advances.
// *CursorStore is the production implementation.
type CursorPersistence interface {
	Load() (string, error)
	Save(cursor string) error
}

// Poller produces a lazy, effectively infinite sequence of fulfillment
// updates, resuming from the last persisted cursor across restarts.
type Poller struct {
	feed     ChangeFeed
	cursor   CursorPersistence
	parent   string
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller creates a poller for the fulfillment feed of parent
// ("vendors/{vendor}"). interval is the minimum wait between calls.
func NewPoller(feed ChangeFeed, cursor CursorPersistence, parent string, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		feed:     feed,
		cursor:   cursor,
		parent:   parent,
		interval: interval,
		log:      log,
	}
}

// Orders returns the fulfillment sequence. It only ends on cancellation
// or when the consumer stops iterating; transport errors are logged and
// retried on the next tick.
//
// The cursor is persisted only when it changes, and only after the whole
// page has been emitted. A crash between emission and persistence causes
// the page to be re-delivered on restart; consumers must tolerate seeing
// the same fulfillment again.
func (p *Poller) Orders(ctx context.Context) iter.Seq[models.Fulfillment] {
	return func(yield func(models.Fulfillment) bool) {
		pageToken, err := p.cursor.Load()
		if err != nil {
			p.log.Warn().Err(err).Msg("cursor unreadable, polling from the beginning")
			pageToken = ""
		}
		p.log.Debug().Str("cursor", pageToken).Msg("poll loop started")

		for {
			page, err := p.feed.PollOrders(ctx, p.parent, pageToken)
			if err != nil {
				// Includes cancellation mid-call: skip this iteration,
				// the wait below decides whether the loop ends.
				p.log.Warn().Err(err).Msg("poll failed, retrying next tick")
			} else {
				for _, f := range page.Fulfillments {
					if !yield(f) {
						return
					}
				}
				if page.NextPageToken != pageToken {
					pageToken = page.NextPageToken
					if err := p.cursor.Save(pageToken); err != nil {
						p.log.Error().Err(err).Msg("persist cursor failed")
					}
				}
			}

			// Minimum spacing between calls, however long the call took.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.interval):
			}
		}
	}
}

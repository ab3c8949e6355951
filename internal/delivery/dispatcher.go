// Package delivery turns fired reminders into outbound notifications.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Transport sends a text message to a recipient.
type Transport interface {
	Send(ctx context.Context, ownerID int64, text string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ownerID int64, text string) error

func (f TransportFunc) Send(ctx context.Context, ownerID int64, text string) error {
	return f(ctx, ownerID, text)
}

// ErrPartial marks a send that reached the recipient in part. Retrying it
// would repeat what was already delivered, so the dispatcher does not.
var ErrPartial = errors.New("partially delivered")

// maxAttempts is one send plus a single immediate retry.
const maxAttempts = 2

// DeliveryError reports an occurrence dropped after every attempt failed.
type DeliveryError struct {
	ID       string
	OwnerID  int64
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s to %d failed after %d attempts: %v", e.ID, e.OwnerID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Receipt describes a successful delivery.
type Receipt struct {
	ID          string
	Attempts    int
	DeliveredAt time.Time
}

// Options tunes a Dispatcher.
type Options struct {
	// Timeout bounds each send attempt (default 15s).
	Timeout time.Duration
	// RatePerSec limits outbound sends across all owners; 0 disables.
	RatePerSec int
	Logger     zerolog.Logger
}

// Dispatcher delivers notifications with at most one immediate retry. It
// never queues an occurrence for later redelivery.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	limiter   *rate.Limiter
	log       zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher over transport.
func NewDispatcher(transport Transport, opts Options) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		timeout:   opts.Timeout,
		log:       opts.Logger.With().Str("comp", "delivery").Logger(),
		now:       time.Now,
	}
	if d.timeout <= 0 {
		d.timeout = 15 * time.Second
	}
	if opts.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return d
}

// Deliver sends text to ownerID. On failure it logs and retries once; if
// the retry fails too it returns a *DeliveryError and the occurrence is
// dropped.
func (d *Dispatcher) Deliver(ctx context.Context, ownerID int64, text string) (Receipt, error) {
	id := uuid.NewString()
	log := d.log.With().Str("delivery_id", id).Int64("owner_id", ownerID).Logger()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.attempt(ctx, ownerID, text)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("delivered on retry")
			}
			return Receipt{ID: id, Attempts: attempt, DeliveredAt: d.now()}, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("delivery attempt failed")
		if ctx.Err() != nil || errors.Is(err, ErrPartial) {
			log.Error().Err(err).Msg("delivery dropped")
			return Receipt{}, &DeliveryError{ID: id, OwnerID: ownerID, Attempts: attempt, Err: err}
		}
	}

	log.Error().Err(lastErr).Msg("delivery dropped")
	return Receipt{}, &DeliveryError{ID: id, OwnerID: ownerID, Attempts: maxAttempts, Err: lastErr}
}

func (d *Dispatcher) attempt(ctx context.Context, ownerID int64, text string) error {
	actx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(actx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := d.transport.Send(actx, ownerID, text); err != nil {
		return err
	}
	return nil
}

// IsDeliveryError reports whether err is a dropped delivery.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

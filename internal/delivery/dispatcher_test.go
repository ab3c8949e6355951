package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDeliverFirstAttempt(t *testing.T) {
	var calls int
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		calls++
		if ownerID != 42 || text != "hi" {
			t.Fatalf("unexpected send %d %q", ownerID, text)
		}
		return nil
	}), Options{Logger: zerolog.Nop()})

	receipt, err := d.Deliver(context.Background(), 42, "hi")
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if calls != 1 || receipt.Attempts != 1 || receipt.ID == "" || receipt.DeliveredAt.IsZero() {
		t.Fatalf("unexpected receipt %+v after %d calls", receipt, calls)
	}
}

func TestDeliverRetriesOnce(t *testing.T) {
	var calls int
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	}), Options{Logger: zerolog.Nop()})

	receipt, err := d.Deliver(context.Background(), 1, "hi")
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if receipt.Attempts != 2 || calls != 2 {
		t.Fatalf("expected 2 attempts, got receipt=%d calls=%d", receipt.Attempts, calls)
	}
}

func TestDeliverDropsAfterSecondFailure(t *testing.T) {
	sendErr := errors.New("chat not found")
	var calls int
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		calls++
		return sendErr
	}), Options{Logger: zerolog.Nop()})

	_, err := d.Deliver(context.Background(), 9, "hi")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.Attempts != 2 || de.OwnerID != 9 || !errors.Is(err, sendErr) {
		t.Fatalf("unexpected error %+v", de)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 sends, got %d", calls)
	}
	if !IsDeliveryError(err) {
		t.Fatalf("IsDeliveryError = false")
	}
}

func TestDeliverStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		calls++
		cancel()
		return ctx.Err()
	}), Options{Logger: zerolog.Nop()})

	_, err := d.Deliver(ctx, 1, "hi")
	if !IsDeliveryError(err) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancel, got %d calls", calls)
	}
}

func TestDeliverAttemptTimeout(t *testing.T) {
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		<-ctx.Done()
		return ctx.Err()
	}), Options{Timeout: 10 * time.Millisecond, Logger: zerolog.Nop()})

	_, err := d.Deliver(context.Background(), 1, "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDeliverDoesNotRetryPartialSend(t *testing.T) {
	var calls int
	d := NewDispatcher(TransportFunc(func(ctx context.Context, ownerID int64, text string) error {
		calls++
		return fmt.Errorf("second chunk: %w", ErrPartial)
	}), Options{Logger: zerolog.Nop()})

	_, err := d.Deliver(context.Background(), 3, "long text")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if calls != 1 || de.Attempts != 1 {
		t.Fatalf("partial send retried: calls=%d attempts=%d", calls, de.Attempts)
	}
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("cause lost: %v", err)
	}
}

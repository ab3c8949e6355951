package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/clock"
	"github.com/notexe/assistant-bot/internal/delivery"
	"github.com/notexe/assistant-bot/internal/reminder"
	"github.com/notexe/assistant-bot/internal/storage"
)

var base = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	items   map[int64]reminder.Reminder
	saveErr error
	saves   []reminder.Reminder
}

func newFakeStore(rs ...reminder.Reminder) *fakeStore {
	s := &fakeStore{items: make(map[int64]reminder.Reminder)}
	for _, r := range rs {
		s.items[r.ID] = r
	}
	return s
}

func (s *fakeStore) LoadActive(ctx context.Context) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.items {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) Save(ctx context.Context, r reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if cur, ok := s.items[r.ID]; !ok || !cur.Active {
		return reminder.ErrNotFound
	}
	s.items[r.ID] = r
	s.saves = append(s.saves, r)
	return nil
}

func (s *fakeStore) Deactivate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return reminder.ErrNotFound
	}
	r.Active = false
	s.items[id] = r
	return nil
}

func (s *fakeStore) put(r reminder.Reminder) {
	s.mu.Lock()
	s.items[r.ID] = r
	s.mu.Unlock()
}

func (s *fakeStore) active(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Active
}

type deliverFunc func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error)

func (f deliverFunc) Deliver(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
	return f(ctx, ownerID, text)
}

func okDeliverer() deliverFunc {
	return func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
		return delivery.Receipt{ID: "d", Attempts: 1}, nil
	}
}

func newTestScheduler(t *testing.T, store Store, d Deliverer, fc *clock.Fake) (*Scheduler, chan Fired) {
	t.Helper()
	fired := make(chan Fired, 16)
	s := New(store, d, Options{
		Location: time.UTC,
		Clock:    fc,
		Logger:   zerolog.Nop(),
		OnFired:  func(f Fired) { fired <- f },
	})
	return s, fired
}

func waitFired(t *testing.T, ch chan Fired) Fired {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for firing")
		return Fired{}
	}
}

func expectNoFire(t *testing.T, ch chan Fired) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected firing of %d", f.Reminder.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func rem(id int64, due time.Time, rec reminder.Recurrence) reminder.Reminder {
	return reminder.Reminder{ID: id, OwnerID: 100 + id, Message: "msg", DueAt: due, Recurrence: rec, Active: true}
}

func TestTickFiresOnlyDueReminders(t *testing.T) {
	fc := clock.NewFake(base)
	r1 := rem(1, base.Add(time.Minute), reminder.Once)
	r2 := rem(2, base.Add(2*time.Minute), reminder.Once)
	store := newFakeStore(r1, r2)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)

	if err := s.Schedule(r1); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := s.Schedule(r2); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("fired %d before due", n)
	}

	fc.Advance(time.Minute)
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 popped, got %d", n)
	}
	f := waitFired(t, fired)
	if f.Reminder.ID != 1 || f.Err != nil || !f.Next.IsZero() {
		t.Fatalf("unexpected firing %+v", f)
	}
	if f.FiredAt.Before(r1.DueAt) {
		t.Fatalf("fired before due: %v", f.FiredAt)
	}
	if store.active(1) {
		t.Fatalf("one-shot reminder still active")
	}

	pending := s.Pending()
	if len(pending) != 1 || pending[0].ID != 2 {
		t.Fatalf("unexpected pending %+v", pending)
	}
}

func TestRecurringReinsertedAtNextOccurrence(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Daily)
	store := newFakeStore(r)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)

	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	s.Tick(context.Background())
	f := waitFired(t, fired)

	want := base.AddDate(0, 0, 1)
	if !f.Next.Equal(want) {
		t.Fatalf("next = %v, want %v", f.Next, want)
	}
	pending := s.Pending()
	if len(pending) != 1 || !pending[0].DueAt.Equal(want) {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if !store.active(1) || len(store.saves) != 1 || !store.saves[0].DueAt.Equal(want) {
		t.Fatalf("next occurrence not saved: %+v", store.saves)
	}
}

func TestCatchUpFiresOnce(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base.AddDate(0, 0, -3), reminder.Daily)
	store := newFakeStore(r)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)

	if n, err := s.Load(context.Background()); err != nil || n != 1 {
		t.Fatalf("Load = %d, %v", n, err)
	}
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected one catch-up firing, got %d", n)
	}
	f := waitFired(t, fired)
	if want := base.AddDate(0, 0, 1); !f.Next.Equal(want) {
		t.Fatalf("next = %v, want %v", f.Next, want)
	}
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("missed occurrences fired again: %d", n)
	}
	expectNoFire(t, fired)
}

func TestCancelPending(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base.Add(time.Hour), reminder.Daily)
	store := newFakeStore(r)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)

	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	found, err := s.Cancel(context.Background(), 1)
	if err != nil || !found {
		t.Fatalf("Cancel = %v, %v", found, err)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("cancelled reminder still pending")
	}
	if store.active(1) {
		t.Fatalf("cancelled reminder still active in store")
	}

	fc.Advance(2 * time.Hour)
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("cancelled reminder fired")
	}
	expectNoFire(t, fired)

	// The store no longer reports it, so Sync keeps it out.
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("sync resurrected a cancelled reminder")
	}
}

func TestCancelDuringDeliveryIsNotReinserted(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Daily)
	store := newFakeStore(r)

	entered := make(chan struct{})
	release := make(chan struct{})
	d := deliverFunc(func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
		close(entered)
		<-release
		return delivery.Receipt{Attempts: 1}, nil
	})
	s, fired := newTestScheduler(t, store, d, fc)

	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	s.Tick(context.Background())
	<-entered

	found, err := s.Cancel(context.Background(), 1)
	if err != nil || !found {
		t.Fatalf("Cancel = %v, %v", found, err)
	}
	close(release)

	f := waitFired(t, fired)
	if f.Err != nil {
		t.Fatalf("in-flight occurrence should still be delivered: %v", f.Err)
	}
	if !f.Next.IsZero() {
		t.Fatalf("cancelled reminder got a next occurrence %v", f.Next)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("cancelled reminder re-inserted")
	}
	if store.active(1) {
		t.Fatalf("cancelled reminder active in store")
	}
}

func TestScheduleRejectsWhileDelivering(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Daily)
	entered := make(chan struct{})
	release := make(chan struct{})
	d := deliverFunc(func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
		close(entered)
		<-release
		return delivery.Receipt{Attempts: 1}, nil
	})
	s, fired := newTestScheduler(t, newFakeStore(r), d, fc)

	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	s.Tick(context.Background())
	<-entered

	var se *reminder.SchedulingError
	if err := s.Schedule(r); !errors.As(err, &se) {
		t.Fatalf("expected SchedulingError, got %v", err)
	}
	close(release)
	waitFired(t, fired)
}

func TestDeliveryFailureDoesNotBlockOthers(t *testing.T) {
	fc := clock.NewFake(base)
	bad := rem(1, base, reminder.Daily)
	good := rem(2, base, reminder.Once)
	store := newFakeStore(bad, good)

	d := deliverFunc(func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
		if ownerID == bad.OwnerID {
			return delivery.Receipt{}, &delivery.DeliveryError{OwnerID: ownerID, Attempts: 2, Err: errors.New("blocked")}
		}
		return delivery.Receipt{Attempts: 1}, nil
	})
	s, fired := newTestScheduler(t, store, d, fc)
	s.Schedule(bad)
	s.Schedule(good)

	if n := s.Tick(context.Background()); n != 2 {
		t.Fatalf("expected 2 popped, got %d", n)
	}
	results := map[int64]Fired{}
	for i := 0; i < 2; i++ {
		f := waitFired(t, fired)
		results[f.Reminder.ID] = f
	}

	if !delivery.IsDeliveryError(results[1].Err) {
		t.Fatalf("expected delivery error, got %v", results[1].Err)
	}
	// Dropped, but the recurring schedule carries on.
	if want := base.AddDate(0, 0, 1); !results[1].Next.Equal(want) {
		t.Fatalf("failed reminder next = %v, want %v", results[1].Next, want)
	}
	if results[2].Err != nil {
		t.Fatalf("good reminder failed: %v", results[2].Err)
	}
}

func TestDeliveryPanicIsContained(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Once)
	d := deliverFunc(func(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error) {
		panic("boom")
	})
	s, fired := newTestScheduler(t, newFakeStore(r), d, fc)
	s.Schedule(r)
	s.Tick(context.Background())

	f := waitFired(t, fired)
	if f.Err == nil {
		t.Fatalf("expected error from panicking deliverer")
	}
}

func TestSaveFailureKeepsSchedule(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Every(time.Hour))
	store := newFakeStore(r)
	store.saveErr = errors.New("disk full")
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)

	s.Schedule(r)
	s.Tick(context.Background())
	f := waitFired(t, fired)

	if f.Err == nil {
		t.Fatalf("expected save error to be reported")
	}
	want := base.Add(time.Hour)
	if !f.Next.Equal(want) {
		t.Fatalf("next = %v, want %v", f.Next, want)
	}
	if p := s.Pending(); len(p) != 1 || !p[0].DueAt.Equal(want) {
		t.Fatalf("unexpected pending %+v", p)
	}
}

func TestScheduleRejectsInvalid(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeStore(), okDeliverer(), clock.NewFake(base))

	invalid := []reminder.Reminder{
		rem(0, base, reminder.Once),
		{ID: 1, OwnerID: 1, DueAt: base, Active: true},
		{ID: 1, OwnerID: 1, Message: "x", Active: true},
		rem(1, base, reminder.Every(time.Second)),
	}
	for i, r := range invalid {
		var se *reminder.SchedulingError
		if err := s.Schedule(r); !errors.As(err, &se) {
			t.Fatalf("case %d: expected SchedulingError, got %v", i, err)
		}
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("invalid reminder was queued")
	}
}

func TestScheduleReplacesPendingTrigger(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeStore(), okDeliverer(), clock.NewFake(base))
	r := rem(1, base.Add(time.Hour), reminder.Once)
	s.Schedule(r)
	r.DueAt = base.Add(2 * time.Hour)
	s.Schedule(r)

	p := s.Pending()
	if len(p) != 1 || !p[0].DueAt.Equal(r.DueAt) {
		t.Fatalf("unexpected pending %+v", p)
	}
}

func TestSyncAddsAndRemoves(t *testing.T) {
	fc := clock.NewFake(base)
	r1 := rem(1, base.Add(time.Hour), reminder.Once)
	r2 := rem(2, base.Add(2*time.Hour), reminder.Once)
	store := newFakeStore(r1, r2)
	s, _ := newTestScheduler(t, store, okDeliverer(), fc)

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	// Another process cancels r1 and adds r3.
	store.Deactivate(context.Background(), 1)
	store.put(rem(3, base.Add(30*time.Minute), reminder.Once))

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	p := s.Pending()
	if len(p) != 2 || p[0].ID != 3 || p[1].ID != 2 {
		t.Fatalf("unexpected pending %+v", p)
	}
}

func TestExternalCancelBeforeRecurringFiring(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "sched.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := reminder.NewStore(db)

	r, err := store.Add(ctx, reminder.Reminder{OwnerID: 7, Message: "standup", DueAt: base, Recurrence: reminder.Daily, Active: true})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	fc := clock.NewFake(base)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)
	if n, err := s.Load(ctx); err != nil || n != 1 {
		t.Fatalf("Load = %d, %v", n, err)
	}

	// Cancelled by another process sharing the database, before the next sync.
	if err := store.Deactivate(ctx, r.ID); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	s.Tick(ctx)
	f := waitFired(t, fired)
	if !f.Next.IsZero() {
		t.Fatalf("cancelled reminder rescheduled for %v", f.Next)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Active {
		t.Fatalf("firing re-activated the cancelled reminder")
	}
	if p := s.Pending(); len(p) != 0 {
		t.Fatalf("unexpected pending %+v", p)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if p := s.Pending(); len(p) != 0 {
		t.Fatalf("reminder back after sync: %+v", p)
	}
}

func TestSyncAdoptsExternalDueChange(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base.Add(time.Hour), reminder.Daily)
	store := newFakeStore(r)
	s, fired := newTestScheduler(t, store, okDeliverer(), fc)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	// Moved later by another writer.
	moved := r
	moved.DueAt = base.Add(3 * time.Hour)
	store.put(moved)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if p := s.Pending(); len(p) != 1 || !p[0].DueAt.Equal(moved.DueAt) {
		t.Fatalf("due change not adopted: %+v", p)
	}

	fc.Advance(time.Hour)
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("fired at the old due time")
	}
	expectNoFire(t, fired)

	// A stored due time in the past is a stale row, not an edit.
	stale := r
	stale.DueAt = base.Add(-time.Hour)
	store.put(stale)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if p := s.Pending(); len(p) != 1 || !p[0].DueAt.Equal(moved.DueAt) {
		t.Fatalf("stale row adopted: %+v", p)
	}
}

func TestStartStop(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base, reminder.Once)
	s, fired := newTestScheduler(t, newFakeStore(r), okDeliverer(), fc)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on second Start")
	}

	// Registration wakes the loop.
	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if f := waitFired(t, fired); f.Reminder.ID != 1 {
		t.Fatalf("unexpected firing %+v", f)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	// Stopping twice is a no-op.
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
}

func TestLoopFiresWhenClockReachesDue(t *testing.T) {
	fc := clock.NewFake(base)
	r := rem(1, base.Add(time.Minute), reminder.Once)
	s, fired := newTestScheduler(t, newFakeStore(r), okDeliverer(), fc)
	s.Schedule(r)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop(ctx)

	expectNoFire(t, fired)
	fc.Advance(time.Minute)
	// Advancing may race the loop arming its timer; a wake covers that.
	s.signal()
	if f := waitFired(t, fired); f.Reminder.ID != 1 {
		t.Fatalf("unexpected firing %+v", f)
	}
}

// Package scheduler fires reminders at their due time.
//
// A single loop owns a min-heap of pending triggers. It sleeps until the
// earliest due time, or until a registration or cancellation wakes it, then
// hands every due reminder to the deliverer and re-inserts recurring ones at
// their next occurrence.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/clock"
	"github.com/notexe/assistant-bot/internal/delivery"
	"github.com/notexe/assistant-bot/internal/reminder"
)

// Store is the durable side of the scheduler.
type Store interface {
	LoadActive(ctx context.Context) ([]reminder.Reminder, error)
	Save(ctx context.Context, r reminder.Reminder) error
	Deactivate(ctx context.Context, id int64) error
}

// Deliverer sends a fired reminder to its owner.
type Deliverer interface {
	Deliver(ctx context.Context, ownerID int64, text string) (delivery.Receipt, error)
}

// Fired describes one handled occurrence.
type Fired struct {
	Reminder reminder.Reminder
	FiredAt  time.Time
	// Next is the following due time, zero when the reminder was retired.
	Next    time.Time
	Receipt delivery.Receipt
	Err     error
}

// Options configures a Scheduler.
type Options struct {
	// Location drives calendar recurrences. When nil, each reminder's own
	// due time location is used.
	Location *time.Location
	Clock    clock.Clock
	Logger   zerolog.Logger
	// SyncInterval re-reads the store while running so reminders written by
	// other processes get picked up. Zero disables.
	SyncInterval time.Duration
	// StoreTimeout bounds store writes made after a firing (default 5s).
	StoreTimeout time.Duration
	// OnFired is called after each occurrence has been delivered (or
	// dropped) and its schedule state updated.
	OnFired func(Fired)
}

const idleWait = time.Hour

// Scheduler is the trigger scheduler. Start and Stop control its loop;
// Tick can be driven directly.
type Scheduler struct {
	store        Store
	deliverer    Deliverer
	loc          *time.Location
	clock        clock.Clock
	log          zerolog.Logger
	syncInterval time.Duration
	storeTimeout time.Duration
	onFired      func(Fired)

	mu    sync.Mutex
	queue triggerQueue
	index map[int64]*trigger
	// inflight holds popped occurrences; the value is true once the
	// reminder has been cancelled while firing.
	inflight map[int64]bool
	// retired ids are skipped by Sync until the store stops reporting them.
	retired map[int64]struct{}
	wake    chan struct{}

	runMu      sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	deliveries sync.WaitGroup
}

// New creates a scheduler. Call Load to seed it from the store.
func New(store Store, deliverer Deliverer, opts Options) *Scheduler {
	s := &Scheduler{
		store:        store,
		deliverer:    deliverer,
		loc:          opts.Location,
		clock:        opts.Clock,
		log:          opts.Logger.With().Str("comp", "scheduler").Logger(),
		syncInterval: opts.SyncInterval,
		storeTimeout: opts.StoreTimeout,
		onFired:      opts.OnFired,
		index:        make(map[int64]*trigger),
		inflight:     make(map[int64]bool),
		retired:      make(map[int64]struct{}),
		wake:         make(chan struct{}, 1),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}
	return s
}

// Load registers every active reminder from the store. Reminders that fail
// validation are logged and skipped. It returns the number registered.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	active, err := s.store.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load reminders: %w", err)
	}

	n := 0
	s.mu.Lock()
	for _, r := range active {
		if err := validate(r); err != nil {
			s.log.Warn().Err(err).Int64("reminder_id", r.ID).Msg("skipping stored reminder")
			continue
		}
		delete(s.retired, r.ID)
		s.upsertLocked(r)
		n++
	}
	s.mu.Unlock()

	s.signal()
	s.log.Info().Int("count", n).Msg("reminders loaded")
	return n, nil
}

// Schedule registers r for firing at r.DueAt, replacing any pending trigger
// with the same ID. A due time in the past fires on the next tick.
func (s *Scheduler) Schedule(r reminder.Reminder) error {
	if err := validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	if _, busy := s.inflight[r.ID]; busy {
		s.mu.Unlock()
		return &reminder.SchedulingError{ID: r.ID, Reason: "an occurrence is being delivered"}
	}
	delete(s.retired, r.ID)
	s.upsertLocked(r)
	s.mu.Unlock()

	s.signal()
	s.log.Debug().Int64("reminder_id", r.ID).Time("due_at", r.DueAt).Msg("reminder scheduled")
	return nil
}

// Cancel removes the pending trigger for id and deactivates the reminder in
// the store. An occurrence already popped for firing is still delivered,
// but a recurring reminder is not re-inserted afterwards. The bool reports
// whether the scheduler knew the reminder.
func (s *Scheduler) Cancel(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	found := s.dropLocked(id)
	s.retired[id] = struct{}{}
	s.mu.Unlock()

	if found {
		s.signal()
	}
	if err := s.store.Deactivate(ctx, id); err != nil {
		return found, fmt.Errorf("failed to cancel reminder %d: %w", id, err)
	}
	s.log.Info().Int64("reminder_id", id).Bool("pending", found).Msg("reminder cancelled")
	return found, nil
}

// Pending returns the queued reminders ordered by due time.
func (s *Scheduler) Pending() []reminder.Reminder {
	s.mu.Lock()
	out := make([]reminder.Reminder, 0, len(s.queue))
	for _, t := range s.queue {
		out = append(out, t.reminder)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out
}

// Tick pops every reminder due at the current clock time and fires each
// on its own goroutine. It returns the number popped.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()

	var due []reminder.Reminder
	s.mu.Lock()
	for {
		t := s.queue.peek()
		if t == nil || t.reminder.DueAt.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.index, t.reminder.ID)
		s.inflight[t.reminder.ID] = false
		due = append(due, t.reminder)
	}
	s.mu.Unlock()

	for _, r := range due {
		s.deliveries.Add(1)
		go s.fire(context.WithoutCancel(ctx), r)
	}
	return len(due)
}

// Sync reconciles the queue with the store: active reminders the scheduler
// does not know are added, and queued reminders no longer active in the
// store are dropped.
func (s *Scheduler) Sync(ctx context.Context) error {
	s.mu.Lock()
	known := make(map[int64]struct{}, len(s.index)+len(s.inflight))
	for id := range s.index {
		known[id] = struct{}{}
	}
	for id := range s.inflight {
		known[id] = struct{}{}
	}
	s.mu.Unlock()

	active, err := s.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync reminders: %w", err)
	}

	now := s.clock.Now()
	added, removed, updated := 0, 0, 0
	seen := make(map[int64]struct{}, len(active))
	s.mu.Lock()
	for _, r := range active {
		seen[r.ID] = struct{}{}
		if t, ok := s.index[r.ID]; ok {
			// Adopt edits made by other writers. A stored due time that is
			// already past is a stale row from a failed save, keep ours.
			if changed(t.reminder, r) && r.DueAt.After(now) && validate(r) == nil {
				s.upsertLocked(r)
				updated++
			}
			continue
		}
		if _, ok := s.inflight[r.ID]; ok {
			continue
		}
		if _, ok := s.retired[r.ID]; ok {
			continue
		}
		if err := validate(r); err != nil {
			s.log.Warn().Err(err).Int64("reminder_id", r.ID).Msg("skipping stored reminder")
			continue
		}
		s.upsertLocked(r)
		added++
	}
	for id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		if s.dropLocked(id) {
			removed++
		}
	}
	for id := range s.retired {
		if _, ok := seen[id]; !ok {
			delete(s.retired, id)
		}
	}
	s.mu.Unlock()

	if added > 0 || removed > 0 || updated > 0 {
		s.signal()
		s.log.Info().Int("added", added).Int("removed", removed).Int("updated", updated).Msg("reminders synced")
	}
	return nil
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)

	s.log.Info().Dur("sync_interval", s.syncInterval).Msg("scheduler started")
	return nil
}

// Stop ends the loop and waits for in-flight deliveries, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := s.clock.NewTimer(idleWait)
	defer timer.Stop()

	var nextSync time.Time
	if s.syncInterval > 0 {
		nextSync = s.clock.Now().Add(s.syncInterval)
	}

	for {
		s.Tick(ctx)

		if s.syncInterval > 0 && !s.clock.Now().Before(nextSync) {
			if err := s.Sync(ctx); err != nil {
				s.log.Error().Err(err).Msg("sync failed")
			}
			nextSync = s.clock.Now().Add(s.syncInterval)
		}

		timer.Stop()
		timer.Reset(s.nextWait(nextSync))

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C():
		}
	}
}

// nextWait returns how long the loop may sleep.
func (s *Scheduler) nextWait(nextSync time.Time) time.Duration {
	now := s.clock.Now()
	wait := idleWait

	s.mu.Lock()
	if t := s.queue.peek(); t != nil {
		wait = t.reminder.DueAt.Sub(now)
	}
	s.mu.Unlock()

	if !nextSync.IsZero() {
		if d := nextSync.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) fire(ctx context.Context, r reminder.Reminder) {
	defer s.deliveries.Done()

	log := s.log.With().Int64("reminder_id", r.ID).Int64("owner_id", r.OwnerID).Logger()
	ev := Fired{Reminder: r, FiredAt: s.clock.Now()}

	ev.Receipt, ev.Err = s.deliver(ctx, r)
	if ev.Err != nil {
		log.Warn().Err(ev.Err).Msg("occurrence dropped")
	} else {
		log.Info().Str("delivery_id", ev.Receipt.ID).Int("attempts", ev.Receipt.Attempts).Msg("reminder delivered")
	}

	next, err := s.advance(ctx, r, ev.FiredAt)
	if err != nil {
		log.Error().Err(err).Msg("failed to update reminder state")
		ev.Err = errors.Join(ev.Err, err)
	}
	ev.Next = next

	if s.onFired != nil {
		s.onFired(ev)
	}
}

func (s *Scheduler) deliver(ctx context.Context, r reminder.Reminder) (receipt delivery.Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("delivery panicked: %v", p)
		}
	}()
	return s.deliverer.Deliver(ctx, r.OwnerID, reminder.Notification(r))
}

// advance updates schedule state after a firing. It runs regardless of
// the delivery outcome.
func (s *Scheduler) advance(ctx context.Context, r reminder.Reminder, firedAt time.Time) (time.Time, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if !r.IsRecurring() {
		s.retire(r.ID)
		if err := s.store.Deactivate(sctx, r.ID); err != nil {
			return time.Time{}, fmt.Errorf("failed to deactivate reminder %d: %w", r.ID, err)
		}
		return time.Time{}, nil
	}

	loc := s.loc
	if loc == nil {
		loc = r.DueAt.Location()
	}
	next, err := r.Recurrence.NextAfter(r.DueAt, firedAt, loc)
	if err != nil {
		s.retire(r.ID)
		return time.Time{}, errors.Join(
			fmt.Errorf("failed to compute next occurrence: %w", err),
			s.store.Deactivate(sctx, r.ID),
		)
	}

	if s.cancelled(r.ID) {
		s.retire(r.ID)
		return time.Time{}, nil
	}

	r.DueAt = next
	var saveErr error
	if err := s.store.Save(sctx, r); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			// Deactivated or deleted behind our back.
			s.retire(r.ID)
			s.log.Info().Int64("reminder_id", r.ID).Msg("reminder no longer active, not rescheduling")
			return time.Time{}, nil
		}
		saveErr = fmt.Errorf("failed to save next occurrence: %w", err)
	}

	s.mu.Lock()
	cancelled := s.inflight[r.ID]
	delete(s.inflight, r.ID)
	if cancelled {
		s.retired[r.ID] = struct{}{}
	} else {
		s.upsertLocked(r)
	}
	s.mu.Unlock()

	if cancelled {
		// Save may have raced the cancellation back to active.
		return time.Time{}, errors.Join(saveErr, s.store.Deactivate(sctx, r.ID))
	}
	s.signal()
	return next, saveErr
}

func (s *Scheduler) cancelled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}

func (s *Scheduler) retire(id int64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.retired[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) upsertLocked(r reminder.Reminder) {
	if t, ok := s.index[r.ID]; ok {
		t.reminder = r
		heap.Fix(&s.queue, t.index)
		return
	}
	t := &trigger{reminder: r}
	heap.Push(&s.queue, t)
	s.index[r.ID] = t
}

// dropLocked removes id from the queue, or flags its in-flight occurrence
// as cancelled. It reports whether id was known.
func (s *Scheduler) dropLocked(id int64) bool {
	if t, ok := s.index[id]; ok {
		s.queue.remove(t)
		delete(s.index, id)
		return true
	}
	if _, ok := s.inflight[id]; ok {
		s.inflight[id] = true
		return true
	}
	return false
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func changed(a, b reminder.Reminder) bool {
	return !a.DueAt.Equal(b.DueAt) || a.Recurrence != b.Recurrence || a.Message != b.Message
}

func validate(r reminder.Reminder) error {
	if r.ID == 0 {
		return &reminder.SchedulingError{Reason: "reminder has no id"}
	}
	return r.Validate()
}

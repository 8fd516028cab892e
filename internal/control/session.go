package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/capture-scheduler/internal/capture"
	"github.com/sweeney/capture-scheduler/internal/logic"
	"github.com/sweeney/capture-scheduler/internal/mqtt"
	"github.com/sweeney/capture-scheduler/internal/status"
)

// Options configures a Session.
type Options struct {
	// CommandRate limits commands per second. Zero disables limiting.
	CommandRate float64
	// CommandBurst is the limiter bucket size; at least 1.
	CommandBurst int

	// QueueSize bounds captures waiting to be published. Zero selects
	// DefaultQueueSize.
	QueueSize int

	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

// DefaultQueueSize is the publish queue length used when Options leaves it
// unset.
const DefaultQueueSize = 64

// Session owns one scheduler for the daemon's lifetime. Each RESET starts a
// new capture session with a fresh ID; counts carry over.
//
// Captures are published from a dedicated goroutine so a slow broker never
// holds up the scheduler's timer.
type Session struct {
	sched   *capture.Scheduler
	pub     mqtt.Publisher
	tracker *status.Tracker
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string

	queue chan logic.Event
	done  chan struct{}

	mu       sync.Mutex
	drained  *sync.Cond // signalled when pending reaches zero
	id       string
	archived logic.Counts // counts of sessions already reset
	pending  int
	closed   bool
}

// notifier is the scheduler observer for one capture session. It carries
// that session's ID so a capture is never attributed to a later session.
type notifier struct {
	s  *Session
	id string
}

func (n notifier) OnCaptureInitiated(_ *capture.Scheduler, p logic.Progress) {
	n.s.enqueue(n.id, p)
}

// NewSession wires sched to pub and tracker and registers itself as the
// scheduler's observer. tracker may be nil.
func NewSession(sched *capture.Scheduler, pub mqtt.Publisher, tracker *status.Tracker, o Options) *Session {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	s := &Session{
		sched:   sched,
		pub:     pub,
		tracker: tracker,
		logger:  o.Logger.With().Str("component", "session").Logger(),
		now:     o.Now,
		newID:   o.NewID,
		queue:   make(chan logic.Event, o.QueueSize),
		done:    make(chan struct{}),
	}
	s.drained = sync.NewCond(&s.mu)
	if o.CommandRate > 0 {
		burst := o.CommandBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(o.CommandRate), burst)
	}
	s.id = s.newID()
	sched.SetObserver(notifier{s: s, id: s.id})
	go s.publishLoop()
	s.Refresh()
	return s
}

// ID returns the current capture session ID.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Report forwards one condition to the scheduler.
func (s *Session) Report(ok bool) {
	s.sched.ReportCondition(ok)
}

// HandleCondition is the MQTT handler for condition messages.
func (s *Session) HandleCondition(payload []byte) {
	ok, err := mqtt.ParseCondition(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring condition")
		return
	}
	s.Report(ok)
}

// HandleCommand is the MQTT handler for command messages.
func (s *Session) HandleCommand(payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring command")
		return
	}
	if err := s.Apply(cmd); err != nil {
		s.logger.Warn().Err(err).Str("command", string(cmd)).Msg("command rejected")
	}
}

// Apply runs cmd against the scheduler.
func (s *Session) Apply(cmd Command) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return ErrRateLimited
	}

	switch cmd {
	case CommandStart:
		s.sched.Start()
	case CommandInvalidate:
		s.sched.Invalidate()
	case CommandReset:
		s.mu.Lock()
		id := s.newID()
		var o capture.Observer = notifier{s: s, id: id}
		if s.closed {
			o = nil
		}
		prev := s.sched.Renew(o)
		s.archived = s.archived.Add(prev.Counts)
		s.id = id
		s.mu.Unlock()
		s.logger.Info().Str("session", id).Msg("new capture session")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	s.logger.Info().Str("command", string(cmd)).Msg("command applied")
	s.Refresh()
	return nil
}

// enqueue hands a capture to the publisher goroutine and refreshes the status
// tracker. It runs on the scheduler's timer goroutine and never blocks on the
// broker; when the queue is full the event is logged and dropped.
func (s *Session) enqueue(id string, p logic.Progress) {
	event := logic.Event{
		Timestamp: s.now(),
		Type:      logic.EventCapture,
		Session:   id,
		Progress:  p,
	}

	s.logger.Info().
		Str("session", id).
		Int("completed", p.Completed).
		Int("total", p.Total).
		Msg("capture")

	s.mu.Lock()
	queued := false
	if !s.closed {
		select {
		case s.queue <- event:
			s.pending++
			queued = true
		default:
		}
	}
	closed := s.closed
	s.mu.Unlock()

	switch {
	case closed:
		s.logger.Warn().Str("session", id).Msg("session closed, capture not published")
	case !queued:
		s.logger.Error().Str("session", id).Int("completed", p.Completed).Msg("publish queue full, capture dropped")
	}
	if p.IsCompleted() {
		s.logger.Info().Str("session", id).Msg("capture session complete")
	}

	s.Refresh()
}

func (s *Session) publishLoop() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.pub.Publish(event); err != nil {
			s.logger.Error().Err(err).Str("session", event.Session).Msg("publish capture")
			// Don't stop the scheduler on publish failure
		}
		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			s.drained.Broadcast()
		}
		s.mu.Unlock()
	}
}

// Flush blocks until every queued capture has been handed to the publisher.
func (s *Session) Flush() {
	s.mu.Lock()
	for s.pending > 0 {
		s.drained.Wait()
	}
	s.mu.Unlock()
}

// Counts returns counts since process start, across resets.
func (s *Session) Counts() logic.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archived.Add(s.sched.Snapshot().Counts)
}

// Refresh copies the scheduler state into the status tracker.
func (s *Session) Refresh() {
	if s.tracker == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.sched.Snapshot()
	s.tracker.Update(status.SchedulerState{
		Session:     s.id,
		Progress:    snap.Progress,
		State:       snap.State,
		Pending:     snap.Pending,
		LastCapture: snap.LastCapture,
		Counts:      s.archived.Add(snap.Counts),
	})
}

// Close stops the scheduler, detaches from it and waits for queued captures
// to be published. It is safe to call more than once.
func (s *Session) Close() {
	s.sched.Invalidate()
	s.sched.SetObserver(nil)

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done

	s.Refresh()
}

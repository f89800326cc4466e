package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"backman/internal/eventbus"
	rtsup "backman/internal/runtime/supervisor"
	"backman/internal/storage"
	"backman/internal/task"
	"backman/pkg/launcher"
	logx "backman/pkg/logx"
)

// Service is the execution dispatcher.
//
// Normal launches happen on the caller's goroutine. Elevated launches go
// through one FIFO lane: a single worker starts them one at a time and waits
// the settling delay after each before taking the next.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	launcher launcher.Launcher
	runs     RunRecorder
	platform Platform
	cwd      string

	q        chan laneJob
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	dropped uint64
}

type laneJob struct {
	task       task.Task
	enqueuedAt time.Time
	state      *RunState
	done       func(error)
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, l launcher.Launcher, runs RunRecorder) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if l == nil {
		l = launcher.New()
	}
	cwd, _ := os.Getwd()
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("comp", "dispatcher")),
		bus:      bus,
		launcher: l,
		runs:     runs,
		platform: HostPlatform(),
		cwd:      cwd,
		states:   make(map[string]*RunState),
	}
}

// SetPlatform overrides the interpreter table.
func (s *Service) SetPlatform(p Platform) {
	s.mu.Lock()
	s.platform = p
	s.mu.Unlock()
}

// Apply updates the settling delay and history size. Queue size changes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.q = make(chan laneJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A failing lane must not take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	queue, stopCh, sup := s.q, s.stopCh, s.sup
	s.mu.Unlock()

	sup.GoRestart("elevated-lane", func(c context.Context) error {
		s.lane(c, stopCh, queue)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("elevated lane exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("dispatcher started", logx.Int("queue", cap(queue)), logx.Duration("elevated_delay", s.delay()))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		// Whatever is still queued will not run; free the ids.
		for {
			select {
			case j := <-queue:
				j.state.release()
				continue
			default:
			}
			break
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("dispatcher stopped")
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out", logx.Err(ctx.Err()))
	}
}

// Execute launches t and returns when the launch is over. Elevated tasks run
// through the lane, so the call also covers the settling delay.
//
// The returned error is informational: it has already been logged, published
// and recorded.
func (s *Service) Execute(ctx context.Context, t task.Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !t.RunAsAdmin {
		return s.launch(ctx, t, 0)
	}

	done := make(chan error, 1)
	stopCh, err := s.enqueue(ctx, t, func(err error) { done <- err }, true)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopped
	}
}

// Submit queues t on the elevated lane without waiting. onDone runs on the
// lane after the launch and the settling delay. It is not called when Submit
// returns an error.
func (s *Service) Submit(t task.Task, onDone func(error)) error {
	_, err := s.enqueue(context.Background(), t, onDone, false)
	return err
}

func (s *Service) enqueue(ctx context.Context, t task.Task, done func(error), block bool) (<-chan struct{}, error) {
	s.mu.Lock()
	q, stopCh := s.q, s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil || stopping {
		return nil, ErrStopped
	}

	st := s.stateFor(t.ID)
	if !st.tryAcquire() {
		s.log.Debug("elevated task skipped: already queued", logx.String("task", t.Name), logx.String("id", t.ID))
		return nil, ErrAlreadyBusy
	}

	job := laneJob{task: t, enqueuedAt: time.Now(), state: st, done: done}
	if !block {
		select {
		case q <- job:
			return stopCh, nil
		default:
			st.release()
			s.onQueueFull(t, q)
			return nil, ErrQueueFull
		}
	}

	select {
	case q <- job:
		return stopCh, nil
	case <-ctx.Done():
		st.release()
		return nil, ctx.Err()
	case <-stopCh:
		st.release()
		return nil, ErrStopped
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.q
	cfg := s.cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:       running,
		Dropped:       atomic.LoadUint64(&s.dropped),
		ElevatedDelay: cfg.ElevatedDelay,
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}

	s.stateMu.Lock()
	for _, st := range s.states {
		st.mu.Lock()
		if st.inflight > 0 {
			snap.Pending++
		}
		st.mu.Unlock()
	}
	s.stateMu.Unlock()

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(id string) *RunState {
	key := strings.TrimSpace(id)
	if key == "" {
		key = "default"
	}
	s.stateMu.Lock()
	st := s.states[key]
	if st == nil {
		st = &RunState{}
		s.states[key] = st
	}
	s.stateMu.Unlock()
	return st
}

func (s *Service) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ElevatedDelay
}

func (s *Service) onQueueFull(t task.Task, q chan laneJob) {
	atomic.AddUint64(&s.dropped, 1)
	now := time.Now()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: now, Elevated: true, Error: ErrQueueFull.Error()}})
	}
	s.log.Warn("elevated task dropped: queue full",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.Int("queue_len", len(q)),
		logx.Int("queue_cap", cap(q)),
		logx.Uint64("dropped", atomic.LoadUint64(&s.dropped)),
	)
}

// record keeps the outcome in memory, in the store and on the bus.
func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()

	if s.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.runs.AppendRun(ctx, storage.RunRecord{
			At:       item.Started,
			TaskID:   item.ID,
			Name:     item.Name,
			Path:     item.Path,
			Elevated: item.Elevated,
			Error:    item.Error,
		})
		cancel()
		if err != nil {
			s.log.Warn("run history not persisted", logx.String("task", item.Name), logx.Err(err))
		}
	}

	if s.bus != nil {
		typ := eventbus.TaskLaunched
		if item.Error != "" {
			typ = eventbus.TaskLaunchFailed
		}
		s.bus.Publish(eventbus.Event{Type: typ, Time: item.Started, Data: TaskEvent{
			ID: item.ID, Name: item.Name, Started: item.Started, QueueDelay: item.QueueDelay,
			Elevated: item.Elevated, Path: item.Path, Error: item.Error,
		}})
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"backman/internal/eventbus"
	"backman/internal/storage"
	"backman/internal/task"
	"backman/pkg/fswatch"
	logx "backman/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	disp  Dispatcher
	clock func() time.Time

	tasks []task.Task
	// suspended stops persistence after a document failed to load, so the
	// broken file is left for the user to fix.
	suspended bool

	// persistMu serializes snapshot+save so an older list never lands last.
	persistMu sync.Mutex

	phase       atomic.Int32
	startupDone bool
	c           *cron.Cron

	cmds      chan command
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	submitMu     sync.Mutex
	lastWarnedAt map[string]time.Time
}

type Option func(*Service)

// WithClock replaces time.Now; the result is converted to the configured location.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(cfg Config, store storage.Store, disp Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:          cfg.withDefaults(),
		log:          log.With(logx.String("comp", "scheduler")),
		bus:          bus,
		store:        store,
		disp:         disp,
		clock:        time.Now,
		cmds:         make(chan command),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		lastWarnedAt: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Phase() Phase { return Phase(s.phase.Load()) }

// Ready is closed once ticking is armed for the first time.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// Done is closed when the scheduler has stopped.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) now() time.Time {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()
	return s.clock().In(loc)
}

// Run loads the tasks, runs the startup pass, arms the tick and then
// processes commands until Terminate or ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if !s.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseStartupPass)) {
		return errors.New("scheduler: Run called twice")
	}
	s.disp.Start(ctx)
	s.load(ctx, "start")
	s.startupPass(ctx)
	if ctx.Err() != nil {
		s.shutdown()
		return nil
	}
	s.arm(ctx)
	s.phase.Store(int32(PhaseTicking))
	s.readyOnce.Do(func() { close(s.ready) })

	wctx, stopWatch := context.WithCancel(ctx)
	defer func() { stopWatch() }()
	s.watchTasks(wctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case c := <-s.cmds:
			switch c.kind {
			case cmdTerminate:
				stopWatch()
				s.shutdown()
				c.reply <- nil
				return nil
			case cmdApply:
				s.disarm(ctx)
				s.mu.Lock()
				prev := s.cfg
				s.cfg = c.cfg.withDefaults()
				next := s.cfg
				s.mu.Unlock()
				if prev.WatchTasks != next.WatchTasks || prev.WatchDebounce != next.WatchDebounce {
					stopWatch()
					wctx, stopWatch = context.WithCancel(ctx)
					s.watchTasks(wctx)
				}
				s.arm(ctx)
				c.reply <- nil
			default:
				s.disarm(ctx)
				s.load(ctx, c.kind.String())
				s.arm(ctx)
				c.reply <- nil
			}
		}
	}
}

func (s *Service) Reload(ctx context.Context) error  { return s.send(ctx, command{kind: cmdReload}) }
func (s *Service) Restart(ctx context.Context) error { return s.send(ctx, command{kind: cmdRestart}) }

// Terminate stops ticking and the dispatcher, releases the store and closes Done.
func (s *Service) Terminate(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdTerminate})
}

// Apply swaps the tick, location and watch settings. The timer is re-armed and
// the tasks file watcher restarted when its settings changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	return s.send(ctx, command{kind: cmdApply, cfg: cfg})
}

func (s *Service) send(ctx context.Context, c command) error {
	c.reply = make(chan error, 1)
	select {
	case <-s.done:
		return ErrTerminated
	default:
	}
	if s.Phase() == PhaseIdle {
		return ErrNotRunning
	}
	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load replaces the in-memory list from the store.
func (s *Service) load(ctx context.Context, reason string) {
	now := s.now()
	tasks, err := s.store.Load(ctx)
	seeded, suspended := false, false
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		tasks = []task.Task{task.Example()}
		seeded = true
		s.log.Info("no tasks stored; seeding example task")
	case errors.Is(err, task.ErrMalformed):
		tasks, suspended = nil, true
		s.log.Error("tasks document is malformed; running with no tasks until it is fixed", logx.Err(err))
	default:
		tasks, suspended = nil, true
		s.log.Error("tasks could not be loaded; running with no tasks", logx.Err(err))
	}

	changed := task.Normalize(tasks, now)

	s.mu.Lock()
	s.tasks = tasks
	s.suspended = suspended
	s.mu.Unlock()

	if seeded || changed {
		s.persist(ctx)
	}

	s.log.Info("tasks loaded",
		logx.String("reason", reason),
		logx.Int("tasks", len(tasks)),
		logx.Bool("seeded", seeded),
		logx.Bool("persist_suspended", suspended),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TasksReloaded, Time: now, Data: ReloadEvent{
			Reason: reason, Tasks: len(tasks), Suspended: suspended,
		}})
	}
}

// startupPass launches the enabled startup tasks once per process.
func (s *Service) startupPass(ctx context.Context) {
	s.mu.Lock()
	if s.startupDone {
		s.mu.Unlock()
		return
	}
	s.startupDone = true
	var list []task.Task
	for _, t := range s.tasks {
		if t.Enabled && t.Schedule == task.ScheduleStartup {
			list = append(list, t)
		}
	}
	s.mu.Unlock()

	if len(list) == 0 {
		return
	}
	start := time.Now()
	for _, t := range list {
		if ctx.Err() != nil {
			return
		}
		// Launch errors are already logged and recorded by the dispatcher.
		_ = s.disp.Execute(ctx, t)
		now := s.now()
		s.update(t.ID, func(t *task.Task) { task.Reschedule(t, now) })
	}
	s.persist(ctx)
	s.log.Info("startup pass done", logx.Int("tasks", len(list)), logx.Duration("took", time.Since(start)))
}

func (s *Service) arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.c.Schedule(cron.Every(s.cfg.Tick), cron.FuncJob(func() { s.tick(ctx) }))
	s.c.Start()
	s.log.Debug("tick armed", logx.Duration("every", s.cfg.Tick), logx.String("tz", s.cfg.Location.String()))
}

// disarm stops the timer and waits for a running tick to return.
func (s *Service) disarm(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// tick launches the due set: normal tasks first, in order, each rescheduled
// and persisted; elevated tasks are handed to the lane and rescheduled when
// their launch (and settling delay) is over.
func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	due := task.Due(s.tasks, s.clock().In(s.cfg.Location))
	s.mu.Unlock()
	if due.Len() == 0 {
		return
	}
	s.log.Debug("tick", logx.Int("normal", len(due.Normal)), logx.Int("elevated", len(due.Elevated)))

	for _, t := range due.Normal {
		if ctx.Err() != nil {
			return
		}
		_ = s.disp.Execute(ctx, t)
		s.reschedule(ctx, t.ID)
	}
	for _, t := range due.Elevated {
		id := t.ID
		err := s.disp.Submit(t, func(error) { s.reschedule(ctx, id) })
		s.reportSubmitError(t.Name, err)
	}
}

// reschedule stamps the task by id and persists the whole list. The task may
// be gone after a reload; that is not an error.
func (s *Service) reschedule(ctx context.Context, id string) {
	if s.Phase() == PhaseStopped {
		return
	}
	now := s.now()
	if !s.update(id, func(t *task.Task) { task.Reschedule(t, now) }) {
		s.log.Debug("rescheduled task no longer listed", logx.String("id", id))
		return
	}
	s.persist(ctx)
}

func (s *Service) update(id string, fn func(*task.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			fn(&s.tasks[i])
			return true
		}
	}
	return false
}

// persist saves the list. Failures are logged and absorbed; memory stays authoritative.
func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		s.log.Debug("persist skipped: store suspended")
		return
	}
	snap := make([]task.Task, len(s.tasks))
	copy(snap, s.tasks)
	s.mu.Unlock()

	// A canceled run context must not lose the final stamps.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.Save(pctx, snap); err != nil {
		s.log.Warn("tasks not persisted", logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.StoreFailed, Time: time.Now(), Data: err.Error()})
		}
	}
}

// watchTasks reloads after out-of-band edits of a file-backed store.
func (s *Service) watchTasks(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	w, ok := s.store.(storage.Watchable)
	if !cfg.WatchTasks || !ok || w.WatchPath() == "" {
		return
	}
	go func() {
		_ = fswatch.Watch(ctx, w.WatchPath(), cfg.WatchDebounce, s.log, func() {
			changed, err := w.ExternallyModified()
			if err != nil {
				s.log.Debug("tasks file check failed", logx.Err(err))
			}
			if !changed {
				return
			}
			s.log.Info("tasks file edited; reloading", logx.String("path", w.WatchPath()))
			if err := s.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("reload after edit failed", logx.Err(err))
			}
		})
	}()
}

func (s *Service) shutdown() {
	if Phase(s.phase.Swap(int32(PhaseStopped))) == PhaseStopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.disarm(ctx)
	s.disp.Stop(ctx)
	if err := s.store.Close(); err != nil {
		s.log.Warn("store close failed", logx.Err(err))
	}
	s.log.Info("scheduler stopped")
	s.doneOnce.Do(func() { close(s.done) })
}

// cronLogger routes cron's own messages to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

// Package telegram is the remote presentation shell: an owner-only bot that
// lists tasks, reports status and forwards Reload, Restart and Terminate.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"backman/internal/eventbus"
	rtsup "backman/internal/runtime/supervisor"
	"backman/internal/storage"
	"backman/internal/task/scheduler"
	logx "backman/pkg/logx"
)

// Controller is the scheduler surface the shell drives.
type Controller interface {
	Snapshot() scheduler.Snapshot
	Runs(ctx context.Context, limit int) ([]storage.RunRecord, error)
	Reload(ctx context.Context) error
	Restart(ctx context.Context) error
	Terminate(ctx context.Context) error
}

type Config struct {
	Token          string
	OwnerUserIDs   []int64
	ChatID         int64
	PollTimeout    time.Duration
	NotifyFailures bool
}

// notifyChat is where unsolicited messages go.
func (c Config) notifyChat() int64 {
	if c.ChatID != 0 {
		return c.ChatID
	}
	if len(c.OwnerUserIDs) > 0 {
		return c.OwnerUserIDs[0]
	}
	return 0
}

type Shell struct {
	cfg Config
	log logx.Logger
	ctl Controller
	bus eventbus.Bus

	bot     *tele.Bot
	notices *dedup

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfg Config, ctl Controller, bus eventbus.Bus, log logx.Logger) (*Shell, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	s := &Shell{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		ctl:     ctl,
		bus:     bus,
		bot:     b,
		notices: newDedup(noticeDedupWindow, noticeDedupMax),
	}
	s.registerHandlers()
	return s, nil
}

func (s *Shell) registerHandlers() {
	s.bot.Use(s.mwOwnerOnly, s.mwRecover)
	for _, cmd := range commands {
		name := cmd.Name
		s.bot.Handle("/"+name, func(c tele.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			start := time.Now()
			reply := s.respond(ctx, name, c.Message().Payload)
			s.log.Debug("command handled", logx.String("cmd", name), logx.Int64("from_id", c.Sender().ID), logx.Duration("dur", time.Since(start)))
			return s.sendChunks(c.Recipient(), reply)
		})
	}
}

func (s *Shell) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// The shell is optional; it never takes the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		s.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		s.log.Info("polling started")
		s.bot.Start()
		s.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telebot poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if s.cfg.NotifyFailures && s.bus != nil {
		events, unsubscribe := s.bus.Subscribe(32)
		sup.Go0("notify.failures", func(c context.Context) {
			defer unsubscribe()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					text := formatEvent(e)
					if text == "" || !s.notices.allow(text, time.Now()) {
						continue
					}
					sctx, cancel := context.WithTimeout(c, 10*time.Second)
					if err := s.SendLog(sctx, text); err != nil {
						s.log.Debug("failure notice not sent", logx.Err(err))
					}
					cancel()
				}
			}
		})
	}
}

// Stop never blocks shutdown for long on the Telegram long-poll.
func (s *Shell) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("telegram stop timed out", logx.Err(err))
	}
}

// SendLog delivers text to the notification chat. It implements logx.Sender.
func (s *Shell) SendLog(ctx context.Context, text string) error {
	chat := s.cfg.notifyChat()
	if chat == 0 {
		return errors.New("telegram: no notification chat")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendChunks(&tele.Chat{ID: chat}, text)
}

func (s *Shell) sendChunks(to tele.Recipient, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if _, err := s.bot.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) mwOwnerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || !isOwner(s.cfg.OwnerUserIDs, sender.ID) {
			if sender != nil {
				s.log.Warn("command from non-owner ignored", logx.Int64("from_id", sender.ID))
			}
			return nil
		}
		return next(c)
	}
}

func (s *Shell) mwRecover(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic recovered", logx.Any("panic", r))
				err = nil
			}
		}()
		return next(c)
	}
}

func isOwner(owners []int64, id int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

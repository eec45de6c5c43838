package slack

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"hitbot/pkg/logx"
)

// Service implements Notifier as queue -> worker pool -> rate limit ->
// retry. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	poster  Poster
	log     logx.Logger
	limiter *rate.Limiter

	queue     chan Message
	pool      *ants.Pool
	accepting bool
	workWG    sync.WaitGroup
	done      chan struct{}
}

func New(cfg Config, poster Poster, log logx.Logger) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		poster:  poster,
		log:     log.With(logx.String("svc", "slack")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.queue != nil {
		return nil
	}
	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return err
	}
	s.pool = pool
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.done = make(chan struct{})
	s.accepting = true
	go s.dispatch(s.queue, pool)
	return nil
}

// Stop stops intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.done
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.mu.Unlock()

	close(q)
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.mu.Lock()
	if s.pool != nil {
		s.pool.Release()
		s.pool = nil
	}
	s.mu.Unlock()
}

// Send enqueues a message. It never blocks: a full queue returns
// ErrQueueFull and the message is dropped.
func (s *Service) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.mu.Unlock()

	select {
	case q <- m:
		return nil
	default:
		s.log.Warn("dropping message, queue full", logx.String("channel", m.Channel))
		return ErrQueueFull
	}
}

func (s *Service) dispatch(q <-chan Message, pool *ants.Pool) {
	defer close(s.done)
	for m := range q {
		msg := m
		s.workWG.Add(1)
		if err := pool.Submit(func() {
			defer s.workWG.Done()
			s.deliver(msg)
		}); err != nil {
			s.workWG.Done()
			s.log.Error("worker pool rejected message", logx.Err(err))
		}
	}
	s.workWG.Wait()
}

func (s *Service) deliver(m Message) {
	attempts := 1 + s.cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.limiter.Wait(ctx); err != nil {
			cancel()
			return
		}
		err := s.poster.Post(ctx, m)
		cancel()
		if err == nil {
			s.log.Debug("message sent", logx.String("channel", m.Channel))
			return
		}
		s.log.Warn("send failed",
			logx.String("channel", m.Channel), logx.Int("attempt", attempt), logx.Err(err))
		if attempt < attempts {
			time.Sleep(s.cfg.RetryBase * time.Duration(attempt))
		}
	}
}

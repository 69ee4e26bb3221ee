package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/observability/metrics"
	processes "supplier-core/internal/processes/domain"
)

const defaultMaxAttempts = 5

// Service applies validated transitions to processes. Every mutation is a
// read-modify-write guarded by the repository version check and retried on
// conflict, so concurrent handlers on the same key never fork the log.
type Service struct {
	repo        processes.Repository
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxAttempts bounds optimistic retries.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService constructs a process service.
func NewService(repo processes.Repository, logger *zap.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("process service: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:        repo,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates a new process in its initial state.
func (s *Service) Start(ctx context.Context, params processes.NewProcessParams) (*processes.BrsProcess, error) {
	if params.CreatedAt.IsZero() {
		params.CreatedAt = s.now()
	}
	p, err := processes.New(params)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("process started",
		zap.String("process_id", p.ID()),
		zap.String("type", string(p.Type())),
		zap.String("role", string(p.Role())),
		zap.String("gsrn", p.MeteringPoint()),
	)
	return p, nil
}

// Get loads a process.
func (s *Service) Get(ctx context.Context, id string) (*processes.BrsProcess, error) {
	return s.repo.Get(ctx, id)
}

// FindActive returns the active process for key.
func (s *Service) FindActive(ctx context.Context, key processes.ActiveKey) (*processes.BrsProcess, error) {
	return s.repo.FindActive(ctx, key)
}

// FindByTransactionID returns a process by its external correlation id.
func (s *Service) FindByTransactionID(ctx context.Context, pt processes.ProcessType, role processes.Role, transactionID string) (*processes.BrsProcess, error) {
	return s.repo.FindByTransactionID(ctx, pt, role, transactionID)
}

// MutateActive finds the active process for key, applies fn and saves. fn
// is re-run against a fresh copy when another writer got there first.
func (s *Service) MutateActive(ctx context.Context, key processes.ActiveKey, fn func(*processes.BrsProcess) error) (*processes.BrsProcess, error) {
	return s.mutate(ctx, func(ctx context.Context) (*processes.BrsProcess, error) {
		return s.repo.FindActive(ctx, key)
	}, fn)
}

// Mutate loads the process by id, applies fn and saves.
func (s *Service) Mutate(ctx context.Context, id string, fn func(*processes.BrsProcess) error) (*processes.BrsProcess, error) {
	return s.mutate(ctx, func(ctx context.Context) (*processes.BrsProcess, error) {
		return s.repo.Get(ctx, id)
	}, fn)
}

// Transition moves process id to state to.
func (s *Service) Transition(ctx context.Context, id string, to processes.State, reason string) (*processes.BrsProcess, error) {
	return s.Mutate(ctx, id, func(p *processes.BrsProcess) error {
		return p.TransitionTo(to, reason, s.now())
	})
}

// Cancel moves a process to Cancelled when its table allows it.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*processes.BrsProcess, error) {
	return s.Transition(ctx, id, processes.StateCancelled, reason)
}

// CompleteDue completes confirmed processes whose effective date has passed.
func (s *Service) CompleteDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.repo.ListByState(ctx, processes.StateConfirmed, now, limit)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, p := range due {
		_, err := s.Transition(ctx, p.ID(), processes.StateCompleted, "effective date reached")
		if err != nil {
			if errors.Is(err, processes.ErrInvalidTransition) {
				continue
			}
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (s *Service) mutate(ctx context.Context, load func(context.Context) (*processes.BrsProcess, error), fn func(*processes.BrsProcess) error) (*processes.BrsProcess, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		pending := p.PendingTransitions()
		err = s.repo.Save(ctx, p)
		if err == nil {
			for _, t := range pending {
				metrics.IncProcessTransition(string(p.Type()), string(t.To))
				s.logger.Info("process transitioned",
					zap.String("process_id", p.ID()),
					zap.String("from", string(t.From)),
					zap.String("to", string(t.To)),
					zap.String("reason", t.Reason),
				)
			}
			return p, nil
		}
		if !errors.Is(err, processes.ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("process version conflict, retrying",
			zap.String("process_id", p.ID()),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

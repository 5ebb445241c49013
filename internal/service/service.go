// Package service implements the auto-reply engine: session lifecycle,
// inbound admission, reply generation and humanized delivery.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/autoreply/internal/adapter/llm"
	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/config"
	"github.com/xiaot623/autoreply/internal/domain"
	"github.com/xiaot623/autoreply/internal/repository"
	"github.com/xiaot623/autoreply/policy"
	"go.uber.org/zap"
)

var (
	// ErrNoActiveSession is returned when the user has no claimed session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionNotConnected is returned for sends on a session that is not connected.
	ErrSessionNotConnected = errors.New("session not connected")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrClosed is returned once the service has been shut down.
	ErrClosed = errors.New("service closed")
)

// Notifier receives status events for a user's subscribers.
type Notifier interface {
	Publish(evt domain.StatusEvent)
}

type nopNotifier struct{}

func (nopNotifier) Publish(domain.StatusEvent) {}

type Service struct {
	store        repository.Store
	transport    transport.Transport
	completer    llm.Completer
	notifier     Notifier
	config       *config.Config
	policyEngine *policy.Engine
	logger       *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	replies sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	actors    map[string]*sessionActor // by session id
	userLocks map[string]*sync.Mutex

	now   func() time.Time
	delay func(lo, hi time.Duration) time.Duration
}

// New creates the engine. notifier and policyEngine may be nil.
func New(store repository.Store, tr transport.Transport, completer llm.Completer, notifier Notifier, cfg *config.Config, policyEngine *policy.Engine, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        store,
		transport:    tr,
		completer:    completer,
		notifier:     notifier,
		config:       cfg,
		policyEngine: policyEngine,
		logger:       logger.Named("service"),
		baseCtx:      ctx,
		cancel:       cancel,
		actors:       make(map[string]*sessionActor),
		userLocks:    make(map[string]*sync.Mutex),
		now:          time.Now,
		delay:        uniformDelay,
	}
}

// Close stops every session actor and waits for in-flight replies.
// Replies still sleeping before send are abandoned in processing.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	actors := make([]*sessionActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	s.cancel()
	for _, a := range actors {
		a.stop()
		<-a.done
	}
	s.replies.Wait()
}

// userLock serializes lifecycle commands of one user.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

func (s *Service) publish(t domain.EventType, session *domain.Session, mutate func(*domain.StatusEvent)) {
	evt := domain.NewStatusEvent(t, session)
	if mutate != nil {
		mutate(&evt)
	}
	s.notifier.Publish(evt)
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/model/chat"
	"github.com/floatchat/backend/internal/service/auth"
)

var (
	ErrOwnerRequired        = errors.New("owner id is required")
	ErrConversationNotFound = errors.New("conversation not found")
)

type conversation struct {
	id        string
	ownerID   string
	sessionID string
	createdAt time.Time
	exchange  *Exchange
}

func (c *conversation) snapshot() chat.Conversation {
	return chat.Conversation{
		ID:        c.id,
		OwnerID:   c.ownerID,
		CreatedAt: c.createdAt,
		Turns:     c.exchange.Turns(),
		Busy:      c.exchange.Busy(),
	}
}

// Service keeps in-memory conversations for signed-in users.
// Transcripts live only as long as the process or the browser session
// that opened them.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	replier       Replier
	greeting      string
	logger        *zap.Logger
}

// NewService bootstraps the conversation registry.
func NewService(replier Replier, greeting string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		conversations: make(map[string]*conversation),
		replier:       replier,
		greeting:      greeting,
		logger:        logger.With(zap.String("component", "chat")),
	}
}

// Open provisions a conversation for ownerID, bound to the browser session
// sessionID. An empty sessionID binds it to no session.
func (s *Service) Open(_ context.Context, ownerID, sessionID string) (chat.Conversation, error) {
	if ownerID == "" {
		return chat.Conversation{}, ErrOwnerRequired
	}

	id := uuid.NewString()
	conv := &conversation{
		id:        id,
		ownerID:   ownerID,
		sessionID: sessionID,
		createdAt: time.Now().UTC(),
		exchange:  NewExchange(s.replier, s.greeting, s.logger.With(zap.String("conversation", id))),
	}

	s.mu.Lock()
	s.conversations[id] = conv
	s.mu.Unlock()

	s.logger.Info("conversation opened", zap.String("conversation", id), zap.String("owner", ownerID))
	return conv.snapshot(), nil
}

// Get returns the conversation snapshot when ownerID owns it.
func (s *Service) Get(_ context.Context, ownerID, id string) (chat.Conversation, error) {
	conv, err := s.lookup(ownerID, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv.snapshot(), nil
}

// Exchange returns the live exchange behind a conversation.
func (s *Service) Exchange(_ context.Context, ownerID, id string) (*Exchange, error) {
	conv, err := s.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}
	return conv.exchange, nil
}

// Submit forwards input to the conversation's exchange.
func (s *Service) Submit(ctx context.Context, ownerID, id, input string) (Result, error) {
	conv, err := s.lookup(ownerID, id)
	if err != nil {
		return Result{}, err
	}
	return conv.exchange.Submit(ctx, input), nil
}

// Close forgets one conversation.
func (s *Service) Close(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.ownerID != ownerID {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}

// CloseSession forgets the conversations opened by browser session sid and
// reports how many were dropped. Other sessions of the same user keep theirs.
func (s *Service) CloseSession(sid string) int {
	if sid == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, conv := range s.conversations {
		if conv.sessionID == sid {
			delete(s.conversations, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Info("conversations closed for session", zap.Int("count", dropped))
	}
	return dropped
}

// HandleAuthEvent drops a session's conversations once it signs out.
func (s *Service) HandleAuthEvent(evt auth.Event) {
	if evt.Type == auth.EventSignedOut {
		s.CloseSession(evt.SessionID)
	}
}

func (s *Service) lookup(ownerID, id string) (*conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || ownerID == "" || conv.ownerID != ownerID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

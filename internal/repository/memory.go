package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"manual-tutor/internal/domain"
)

const (
	memoryExpiration = 24 * time.Hour
	memoryCleanup    = 30 * time.Minute
)

// MemoryStore keeps session state in process memory. It backs the terminal
// tutor when no DynamoDB table is configured.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(memoryExpiration, memoryCleanup)}
}

func stateKey(sessionID string) string   { return "state:" + sessionID }
func historyKey(sessionID string) string { return "history:" + sessionID }

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.getSession(sessionID)
	if !ok {
		return domain.Session{ID: sessionID}, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: SaveSession: session ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putSession(s)
	return nil
}

func (m *MemoryStore) CompleteSetup(_ context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CompleteSetup: session ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.getSession(s.ID); ok && cur.SetupComplete {
		return domain.ErrSetupComplete
	}
	s.SetupComplete = true
	m.putSession(s)
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.getHistory(sessionID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) SaveCompletedTurn(_ context.Context, sessionID, question, answer, runID string, turns int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.getSession(sessionID)
	if !ok {
		return errors.New("repository: SaveCompletedTurn: unknown session")
	}
	msg := NewMessage(sessionID, question, runID, statusComplete)
	msg.Answer = answer
	m.cache.Set(historyKey(sessionID), append(m.getHistory(sessionID), msg), cache.DefaultExpiration)

	s.Turns = turns
	m.putSession(s)
	return nil
}

func (m *MemoryStore) getSession(sessionID string) (domain.Session, bool) {
	v, ok := m.cache.Get(stateKey(sessionID))
	if !ok {
		return domain.Session{}, false
	}
	s := v.(domain.Session)
	s.Documents = append([]string(nil), s.Documents...)
	return s, true
}

func (m *MemoryStore) putSession(s domain.Session) {
	s.UpdatedAt = time.Now().UTC()
	s.Documents = append([]string(nil), s.Documents...)
	m.cache.Set(stateKey(s.ID), s, cache.DefaultExpiration)
}

func (m *MemoryStore) getHistory(sessionID string) []domain.Message {
	v, ok := m.cache.Get(historyKey(sessionID))
	if !ok {
		return nil
	}
	return v.([]domain.Message)
}

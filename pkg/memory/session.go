// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// Backend opens session stores and destroys whatever they persisted.
type Backend interface {
	Open(ctx context.Context) (Store, error)
	Destroy(ctx context.Context) error
}

// InMemoryBackend keeps sessions in process memory.
type InMemoryBackend struct {
	Config ConversationConfig
}

// Open implements Backend.
func (b InMemoryBackend) Open(context.Context) (Store, error) {
	return NewInMemoryConversation(b.Config), nil
}

// Destroy implements Backend. Nothing outlives the store.
func (InMemoryBackend) Destroy(context.Context) error { return nil }

func (b InMemoryBackend) ttl() time.Duration { return b.Config.DefaultSessionTTL }

// SQLiteBackend keeps sessions in a SQLite file.
type SQLiteBackend struct {
	Path   string
	Config ConversationConfig
}

// Open implements Backend.
func (b SQLiteBackend) Open(ctx context.Context) (Store, error) {
	return OpenSQLiteConversation(ctx, b.Path, b.Config)
}

// Destroy implements Backend.
func (b SQLiteBackend) Destroy(context.Context) error {
	return RemoveSQLiteFiles(b.Path)
}

func (b SQLiteBackend) ttl() time.Duration { return b.Config.DefaultSessionTTL }

type batchAppender interface {
	AppendMessages(ctx context.Context, sessionID string, msgs []ConversationMessage) error
}

// Session is the persisted conversation of one analyst. Its ID is stable until
// the process exits; Reset drops the store and recreates it empty.
type Session struct {
	ID string

	backend Backend

	mu     sync.Mutex
	store  Store
	closed bool
}

// NewSession opens a session on backend. An empty id generates one.
func NewSession(ctx context.Context, id string, backend Backend) (*Session, error) {
	if backend == nil {
		return nil, errors.New(errors.CodeInvalidInput, "session backend is required", nil)
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{ID: id, backend: backend}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) open(ctx context.Context) error {
	store, err := s.backend.Open(ctx)
	if err != nil {
		return errors.New(errors.CodeMemoryError, "open session store", err).WithContext("session_id", s.ID)
	}
	if b, ok := s.backend.(interface{ ttl() time.Duration }); ok && b.ttl() > 0 {
		if err := store.DeleteOldMessages(ctx, s.ID, b.ttl()); err != nil {
			_ = store.Close()
			return errors.New(errors.CodeMemoryError, "prune session", err).WithContext("session_id", s.ID)
		}
	}
	s.store = store
	s.closed = false
	return nil
}

// ready reopens the store after a failed Reset. Only Close is final.
func (s *Session) ready(ctx context.Context) error {
	if s.closed {
		return errClosed(s.ID)
	}
	if s.store == nil {
		return s.open(ctx)
	}
	return nil
}

// Messages returns the session history, truncated by the store's strategy.
func (s *Session) Messages(ctx context.Context) ([]ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, s.ID)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "read session", err).WithContext("session_id", s.ID)
	}
	return msgs, nil
}

// Append adds msgs to the session. Stores that support it write all of them
// atomically.
func (s *Session) Append(ctx context.Context, msgs ...ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}

	var err error
	if batch, ok := s.store.(batchAppender); ok {
		err = batch.AppendMessages(ctx, s.ID, msgs)
	} else {
		for _, msg := range msgs {
			if err = s.store.AppendMessage(ctx, s.ID, msg); err != nil {
				break
			}
		}
	}
	if err != nil {
		return errors.New(errors.CodeMemoryError, "append session", err).WithContext("session_id", s.ID)
	}
	return nil
}

// Len returns the number of persisted messages.
func (s *Session) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	return s.store.Count(ctx, s.ID)
}

// Reset closes the store, destroys its persisted state and opens a new one
// under the same ID. It is safe when the underlying files do not exist. When
// Destroy fails the previous store is reopened, and when the reopen fails the
// next read or write retries it.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return errors.New(errors.CodeMemoryError, "close session store", err).WithContext("session_id", s.ID)
		}
		s.store = nil
	}
	if err := s.backend.Destroy(ctx); err != nil {
		if openErr := s.open(ctx); openErr != nil {
			err = fmt.Errorf("%w; reopen: %v", err, openErr)
		}
		return errors.New(errors.CodeMemoryError, "destroy session store", err).WithContext("session_id", s.ID)
	}
	return s.open(ctx)
}

// Close releases the store.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func errClosed(id string) error {
	return errors.New(errors.CodeMemoryError, fmt.Sprintf("session %s is closed", id), nil)
}

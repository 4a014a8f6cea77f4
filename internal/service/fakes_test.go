package service

import (
	"context"
	"sync"
	"time"

	"jobboard_auth/internal/events"
	"jobboard_auth/internal/model"
	"jobboard_auth/internal/repository"
)

// memStore is an in-memory repository.Store. LockByID inside WithTx holds a
// per-user lock until the transaction returns, and a failed transaction undoes
// only its own writes.
type memStore struct {
	mu          sync.Mutex
	users       map[int]*model.User
	tokens      []*model.Token
	userLocks   map[int]*sync.Mutex
	nextUserID  int
	nextTokenID int64

	failTokenCreate error
	// sweepDelay widens the window between reading and revoking valid tokens
	sweepDelay time.Duration
	// unlockedSweeps counts valid-token reads made without the user's lock
	unlockedSweeps int
	txCount        int
}

func newMemStore() *memStore {
	return &memStore{users: map[int]*model.User{}, userLocks: map[int]*sync.Mutex{}}
}

func (m *memStore) Users() repository.UserRepository   { return memUsers{m: m} }
func (m *memStore) Tokens() repository.TokenRepository { return memTokens{m: m} }

func (m *memStore) WithTx(_ context.Context, fn func(repository.Store) error) error {
	m.mu.Lock()
	m.txCount++
	m.mu.Unlock()

	tx := &memTx{m: m, held: map[int]*sync.Mutex{}}
	defer tx.release()

	if err := fn(tx); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// memTx is the Store seen inside WithTx. undo entries run with m.mu held.
type memTx struct {
	m    *memStore
	held map[int]*sync.Mutex
	undo []func()
}

func (tx *memTx) Users() repository.UserRepository   { return memUsers{m: tx.m, tx: tx} }
func (tx *memTx) Tokens() repository.TokenRepository { return memTokens{m: tx.m, tx: tx} }

func (tx *memTx) WithTx(_ context.Context, fn func(repository.Store) error) error {
	return fn(tx)
}

func (tx *memTx) holds(userID int) bool {
	return tx != nil && tx.held[userID] != nil
}

func (tx *memTx) onRollback(f func()) {
	if tx != nil {
		tx.undo = append(tx.undo, f)
	}
}

func (tx *memTx) release() {
	for _, l := range tx.held {
		l.Unlock()
	}
}

func (m *memStore) validTokens(userID int) []*model.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Token
	for _, t := range m.tokens {
		if t.UserID == userID && t.Valid() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memStore) userByEmail(email string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp
		}
	}
	return nil
}

type memUsers struct {
	m  *memStore
	tx *memTx
}

func (r memUsers) Create(_ context.Context, user *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	r.m.nextUserID++
	user.ID = r.m.nextUserID
	cp := *user
	r.m.users[user.ID] = &cp

	id := user.ID
	r.tx.onRollback(func() { delete(r.m.users, id) })
	return nil
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.m.userByEmail(email), nil
}

func (r memUsers) FindByID(_ context.Context, id int) (*model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// LockByID behaves like SELECT ... FOR UPDATE: inside a transaction the lock
// is held until WithTx returns, outside one it is released at once.
func (r memUsers) LockByID(_ context.Context, id int) error {
	r.m.mu.Lock()
	_, exists := r.m.users[id]
	l := r.m.userLocks[id]
	if l == nil {
		l = &sync.Mutex{}
		r.m.userLocks[id] = l
	}
	r.m.mu.Unlock()

	if !exists {
		return repository.ErrRecordNotFound
	}
	if r.tx == nil {
		l.Lock()
		l.Unlock()
		return nil
	}
	if r.tx.holds(id) {
		return nil
	}
	l.Lock()
	r.tx.held[id] = l
	return nil
}

type memTokens struct {
	m  *memStore
	tx *memTx
}

func (r memTokens) Create(_ context.Context, token *model.Token) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failTokenCreate != nil {
		return r.m.failTokenCreate
	}
	r.m.nextTokenID++
	token.ID = r.m.nextTokenID
	cp := *token
	r.m.tokens = append(r.m.tokens, &cp)

	id := token.ID
	r.tx.onRollback(func() {
		kept := r.m.tokens[:0]
		for _, t := range r.m.tokens {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		r.m.tokens = kept
	})
	return nil
}

func (r memTokens) FindByToken(_ context.Context, token string) (*model.Token, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.tokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memTokens) FindAllValidByUser(_ context.Context, userID int) ([]*model.Token, error) {
	r.m.mu.Lock()
	if !r.tx.holds(userID) {
		r.m.unlockedSweeps++
	}
	var out []*model.Token
	for _, t := range r.m.tokens {
		if t.UserID == userID && (!t.Expired || !t.Revoked) {
			cp := *t
			out = append(out, &cp)
		}
	}
	delay := r.m.sweepDelay
	r.m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return out, nil
}

func (r memTokens) SaveAll(_ context.Context, tokens []*model.Token) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, in := range tokens {
		for _, t := range r.m.tokens {
			if t.ID != in.ID {
				continue
			}
			stored, expired, revoked := t, t.Expired, t.Revoked
			r.tx.onRollback(func() { stored.Expired, stored.Revoked = expired, revoked })
			t.Expired, t.Revoked = in.Expired, in.Revoked
		}
	}
	return nil
}

// memCache records revocations
type memCache struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{revoked: map[string]time.Duration{}}
}

func (c *memCache) MarkRevoked(_ context.Context, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[token] = ttl
	return nil
}

func (c *memCache) IsRevoked(_ context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.revoked[token]
	return ok, nil
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU holds pending delete-token reveals in process memory. It is used when
// no Redis is configured; reveals do not survive a restart.
type LRU struct {
	c   *lru.Cache[string, item]
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
}
type item struct {
	token string
	exp   time.Time
}

func NewLRU(size int, ttl time.Duration) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	if ttl <= 0 {
		return nil, errors.New("reveal ttl must be positive")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, ttl: ttl, now: time.Now}, nil
}

func key(sessionID, pasteID string) string {
	return sessionID + ":" + pasteID
}

func (l *LRU) Stash(ctx context.Context, sessionID, pasteID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(key(sessionID, pasteID), item{
		token: token,
		exp:   l.now().Add(l.ttl),
	})
	return nil
}

// Take returns the pending token and removes it; "" when nothing is pending.
func (l *LRU) Take(ctx context.Context, sessionID, pasteID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(sessionID, pasteID)
	it, ok := l.c.Get(k)
	if !ok {
		return "", nil
	}
	l.c.Remove(k)
	if l.now().After(it.exp) {
		return "", nil
	}
	return it.token, nil
}

func (l *LRU) Forget(ctx context.Context, sessionID, pasteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(key(sessionID, pasteID))
	return nil
}

package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"rujukan/cfg"
	"rujukan/metrics"
	"rujukan/pkg/domain"
	"rujukan/svc/db"
	"rujukan/svc/util"

	"github.com/pkg/errors"
)

const (
	MaxTitleRunes = 200
	MaxRecent     = 100
)

var ErrShuttingDown = errors.New("service shutting down")

// Reveals holds delete tokens waiting to be shown once to the session that
// created (or was handed) them.
type Reveals interface {
	Stash(ctx context.Context, sessionID, pasteID, token string) error
	Take(ctx context.Context, sessionID, pasteID string) (string, error)
	Forget(ctx context.Context, sessionID, pasteID string) error
}

type Paste struct {
	db       *db.SQLite
	reveals  Reveals
	cfg      *cfg.Cfg
	shutdown atomic.Bool
	cleaning atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(sqlDB *db.SQLite, reveals Reveals, c *cfg.Cfg) *Paste {
	if sqlDB == nil || reveals == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, reveals, or cfg)")
	}
	return &Paste{
		db:      sqlDB,
		reveals: reveals,
		cfg:     c,
	}
}

func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Shutdown rejects new writes and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// Create validates params and stores a paste. The returned paste carries its
// delete token.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if strings.TrimSpace(params.Content) == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	if params.Expiration < 0 {
		return nil, domain.ErrInvalidRequest
	}
	title := truncateRunes(strings.TrimSpace(params.Title), MaxTitleRunes)
	paste, err := p.db.Create(ctx, params.Content, title, params.Expiration)
	if err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	metrics.PasteCreated.Inc()
	util.Info().
		Str("id", paste.ID).
		Int("size", len(params.Content)).
		Str("token", util.RedactToken(paste.DeleteToken)).
		Msg("paste created")
	return paste, nil
}

// Get returns a live paste without its delete token.
func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	paste, err := p.db.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	paste.DeleteToken = ""
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// View is Get plus the session's pending delete token, if any. A token is
// returned at most once per stash.
func (p *Paste) View(ctx context.Context, sessionID, id string) (*domain.Paste, string, error) {
	paste, err := p.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if sessionID == "" {
		return paste, "", nil
	}
	token, err := p.reveals.Take(ctx, sessionID, id)
	if err != nil {
		util.Warn().Err(err).Str("id", id).Msg("failed to read pending token reveal")
		return paste, "", nil
	}
	if token != "" {
		metrics.TokenReveals.Inc()
	}
	return paste, token, nil
}

// Recent lists live pastes newest first. A non-positive limit means the
// configured default; anything above MaxRecent is capped.
func (p *Paste) Recent(ctx context.Context, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		limit = p.cfg.RecentLimit
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}
	out, err := p.db.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list recent")
	}
	return out, nil
}

// RememberToken stashes token for the session so the next view of id shows
// it. The token itself is not checked here; deletion does that.
func (p *Paste) RememberToken(ctx context.Context, sessionID, id, token string) error {
	if sessionID == "" || token == "" {
		return domain.ErrInvalidRequest
	}
	if _, err := p.db.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return domain.ErrPasteNotFound
		}
		return errors.Wrap(err, "remember token")
	}
	return errors.Wrap(p.reveals.Stash(ctx, sessionID, id, token), "stash token")
}

// Stash records the creator's token right after Create.
func (p *Paste) Stash(ctx context.Context, sessionID string, paste *domain.Paste) {
	if sessionID == "" || paste == nil || paste.DeleteToken == "" {
		return
	}
	if err := p.reveals.Stash(ctx, sessionID, paste.ID, paste.DeleteToken); err != nil {
		util.Warn().Err(err).Str("id", paste.ID).Msg("failed to stash delete token")
	}
}

// Delete removes id when token matches. Wrong token and unknown id both
// yield domain.ErrDeleteFailed.
func (p *Paste) Delete(ctx context.Context, sessionID, id, token string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	ok, err := p.db.Delete(ctx, id, token)
	if err != nil {
		metrics.PasteDeleted.WithLabelValues("error").Inc()
		return errors.Wrap(err, "delete paste")
	}
	if !ok {
		metrics.PasteDeleted.WithLabelValues("rejected").Inc()
		util.Info().Str("id", id).Str("token", util.RedactToken(token)).Msg("paste delete rejected")
		return domain.ErrDeleteFailed
	}
	metrics.PasteDeleted.WithLabelValues("deleted").Inc()
	if sessionID != "" {
		if err := p.reveals.Forget(ctx, sessionID, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to forget token reveal")
		}
	}
	util.Info().Str("id", id).Msg("paste deleted via token")
	return nil
}

// Cleanup runs one expiry sweep.
func (p *Paste) Cleanup(ctx context.Context) (int, error) {
	deleted, err := p.db.CleanupExpired(ctx)
	metrics.PruneCycles.Inc()
	if deleted > 0 {
		metrics.PasteExpired.WithLabelValues("sweep").Add(float64(deleted))
	}
	if err != nil {
		return deleted, errors.Wrap(err, "cleanup expired")
	}
	return deleted, nil
}

// StartCleaner sweeps expired pastes every interval until ctx is done.
// It blocks; only one cleaner may run per service.
func (p *Paste) StartCleaner(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if !p.cleaning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	defer p.cleaning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return nil
		case <-ticker.C:
			deleted, err := p.Cleanup(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

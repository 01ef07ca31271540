package db

import (
	"context"
)

// Ping runs a trivial query through the pool; used by /ready and -health.
func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

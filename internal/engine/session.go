package engine

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier runs statements. *pgxpool.Pool, *pgx.Conn and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Session executes statements on behalf of database roles. When transparent
// dynamic masking is on, statements of masked roles are rewritten first.
type Session struct {
	engine *Engine
	db     Querier
}

// NewSession creates a session over db.
func (e *Engine) NewSession(db Querier) *Session {
	return &Session{engine: e, db: db}
}

// Query runs sql as role.
func (s *Session) Query(ctx context.Context, role, sql string, args ...any) (pgx.Rows, error) {
	if !s.engine.settings.TransparentDynamicMasking {
		return s.db.Query(ctx, sql, args...)
	}
	out, err := s.engine.Rewrite(ctx, role, sql)
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.engine.logger.Debug("masked statement", "role", role, "policy", out.Policy, "masked", out.Masked)
	}
	return s.db.Query(ctx, out.SQL, args...)
}

package stores

import (
	"context"
	"time"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/squealx"
)

// SQLRevocationStore persists revoked token ids.
type SQLRevocationStore struct {
	db *squealx.DB
}

func NewSQLRevocationStore(db *squealx.DB) *SQLRevocationStore {
	return &SQLRevocationStore{db: db}
}

func (s *SQLRevocationStore) Revoke(ctx context.Context, t *iam.RevokedToken) error {
	if t.RevokedAt.IsZero() {
		t.RevokedAt = time.Now()
	}
	q := `INSERT INTO revoked_tokens(jti, revoked_at, reason, expires_at) VALUES(:jti, :revoked_at, :reason, :expires_at)
	ON CONFLICT(jti) DO UPDATE SET reason = :reason, expires_at = :expires_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"jti": t.JTI, "revoked_at": t.RevokedAt, "reason": t.Reason,
		"expires_at": sqlNullTimeOrNil(t.ExpiresAt),
	})
	return err
}

func (s *SQLRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	q := `SELECT 1 FROM revoked_tokens WHERE jti = :jti`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"jti": jti})
	if err != nil {
		return false, err
	}
	defer r.Close()
	return r.Next(), nil
}

// Prune drops revocations whose token exp has passed. Rows without a
// recorded exp are never pruned.
func (s *SQLRevocationStore) Prune(ctx context.Context, now time.Time) (int, error) {
	q := `DELETE FROM revoked_tokens WHERE expires_at IS NOT NULL AND expires_at < :now`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"now": now})
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

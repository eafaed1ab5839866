package stores

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/iam"
)

// RedisRevocationStore keeps the revoked jti set in a redis sorted set shared
// by every resolver instance. The member score is the token's exp (unix
// seconds) so pruning is one range removal; tokens revoked without a known
// exp score +inf and survive pruning.
type RedisRevocationStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisRevocationStore(client redis.UniversalClient) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, key: "iam:revoked"}
}

func (r *RedisRevocationStore) Revoke(ctx context.Context, t *iam.RevokedToken) error {
	score := math.Inf(1)
	if !t.ExpiresAt.IsZero() {
		score = float64(t.ExpiresAt.Unix())
	}
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: score, Member: t.JTI}).Err()
}

func (r *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := r.client.ZScore(ctx, r.key, jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisRevocationStore) Prune(ctx context.Context, now time.Time) (int, error) {
	max := "(" + strconv.FormatInt(now.Unix(), 10)
	n, err := r.client.ZRemRangeByScore(ctx, r.key, "-inf", max).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

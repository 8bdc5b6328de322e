package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/classroom/classroom/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Records are kept past their expiry for this long so DeleteExpired and the
// resend throttle still see them; Redis drops them afterwards.
const redisRetention = 24 * time.Hour

// Each record lives in its own hash; a per-email sorted set scored by
// creation time (unix ms) indexes them. Index members can outlive their
// hash once Redis expires it, so readers skip and prune dangling ids.
var consumeOTPScript = redis.NewScript(`
local expires = redis.call("HGET", KEYS[1], "expires_ms")
if not expires then
  redis.call("ZREM", KEYS[2], ARGV[2])
  return 0
end
if tonumber(expires) <= tonumber(ARGV[1]) then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return 1
`)

type RedisOTPRepository struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewRedisOTPRepository(client *redis.Client, prefix string, logger *logrus.Logger) *RedisOTPRepository {
	if prefix == "" {
		prefix = "classroom"
	}
	return &RedisOTPRepository{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisOTPRepository) recordKey(id string) string {
	return fmt.Sprintf("%s:otp:rec:%s", r.prefix, id)
}

func (r *RedisOTPRepository) indexKey(email string) string {
	return fmt.Sprintf("%s:otp:email:%s", r.prefix, NormalizeEmail(email))
}

func (r *RedisOTPRepository) Create(ctx context.Context, rec *models.OTPRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Email = NormalizeEmail(rec.Email)

	key := r.recordKey(rec.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":         rec.ID,
			"email":      rec.Email,
			"digest":     rec.CodeDigest,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"expires_ms": rec.ExpiresAt.UnixMilli(),
		})
		pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(redisRetention))
		pipe.ZAdd(ctx, r.indexKey(rec.Email), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
		pipe.PExpireAt(ctx, r.indexKey(rec.Email), rec.ExpiresAt.Add(redisRetention))
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

// newest returns the live records for email, newest first, pruning index
// members whose hash has already expired.
func (r *RedisOTPRepository) newest(ctx context.Context, email string) ([]models.OTPRecord, error) {
	index := r.indexKey(email)
	ids, err := r.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list OTPs: %w", err)
	}

	records := make([]models.OTPRecord, 0, len(ids))
	var dangling []interface{}
	for _, id := range ids {
		rec, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			dangling = append(dangling, id)
			continue
		}
		records = append(records, *rec)
	}

	if len(dangling) > 0 {
		if err := r.client.ZRem(ctx, index, dangling...).Err(); err != nil {
			r.logger.WithError(err).Warn("Failed to prune OTP index")
		}
	}
	return records, nil
}

func (r *RedisOTPRepository) load(ctx context.Context, id string) (*models.OTPRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse OTP created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse OTP expires_at: %w", err)
	}

	return &models.OTPRecord{
		ID:         fields["id"],
		Email:      fields["email"],
		CodeDigest: fields["digest"],
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}, nil
}

func (r *RedisOTPRepository) FindLatest(ctx context.Context, email string) (*models.OTPRecord, error) {
	records, err := r.newest(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *RedisOTPRepository) FindLatestValid(ctx context.Context, email, digest string, now time.Time) (*models.OTPRecord, error) {
	records, err := r.newest(ctx, email)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].CodeDigest == digest && !records[i].Expired(now) {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (r *RedisOTPRepository) Consume(ctx context.Context, email, id string, now time.Time) (bool, error) {
	res, err := consumeOTPScript.Run(ctx, r.client,
		[]string{r.recordKey(id), r.indexKey(email)},
		now.UnixMilli(), id,
	).Int64()
	if err != nil {
		r.logger.WithError(err).WithField("otp_id", id).Error("Failed to consume OTP in Redis")
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return res == 1, nil
}

func (r *RedisOTPRepository) DeleteByID(ctx context.Context, email, id string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.recordKey(id))
		pipe.ZRem(ctx, r.indexKey(email), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisOTPRepository) DeleteExpired(ctx context.Context, email string, now time.Time) (int64, error) {
	return r.deleteWhere(ctx, email, func(rec models.OTPRecord) bool { return rec.Expired(now) })
}

// DeleteIssuedBefore reads the index by score, so only ids created before
// the cutoff (millisecond resolution) are candidates.
func (r *RedisOTPRepository) DeleteIssuedBefore(ctx context.Context, email string, before time.Time, keepID string) (int64, error) {
	index := r.indexKey(email)
	ids, err := r.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list OTPs: %w", err)
	}

	var keys []string
	var members []interface{}
	for _, id := range ids {
		if id == keepID {
			continue
		}
		keys = append(keys, r.recordKey(id))
		members = append(members, id)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, index, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete OTPs: %w", err)
	}
	return deleted.Val(), nil
}

func (r *RedisOTPRepository) deleteWhere(ctx context.Context, email string, match func(models.OTPRecord) bool) (int64, error) {
	records, err := r.newest(ctx, email)
	if err != nil {
		return 0, err
	}

	var keys []string
	var ids []interface{}
	for _, rec := range records {
		if match(rec) {
			keys = append(keys, r.recordKey(rec.ID))
			ids = append(ids, rec.ID)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.indexKey(email), ids...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete OTPs: %w", err)
	}
	return deleted.Val(), nil
}

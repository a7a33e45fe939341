package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-booking/internal/models"
)

// presenceField keeps an empty list distinguishable from a miss.
const presenceField = "_"

// replaceScript bumps the user's epoch and writes a ride field only when the
// list is already cached.
var replaceScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0`)

// putScript replaces the whole list unless the epoch moved past ARGV[1].
// ARGV[2] is the ttl in milliseconds, the rest are field/value pairs.
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1`)

// invalidateScript drops the list and bumps the epoch together.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
return redis.call('DEL', KEYS[1])`)

// Redis stores each user's rides as a hash of ride id -> JSON row. It also
// keeps the revoked token list.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(addr, password string, ttl time.Duration) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c, ttl: ttl, prefix: "taxi:"}
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) listKey(userID string) string { return r.prefix + "rides:user:" + userID }

func (r *Redis) epochKey(userID string) string { return r.prefix + "rides:epoch:" + userID }

func (r *Redis) List(ctx context.Context, userID string) ([]models.Ride, bool, error) {
	m, err := r.client.HGetAll(ctx, r.listKey(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	out := make([]models.Ride, 0, len(m))
	for field, v := range m {
		if field == presenceField {
			continue
		}
		var ride models.Ride
		if err := json.Unmarshal([]byte(v), &ride); err != nil {
			// a corrupt entry poisons the list; drop it and report a miss
			_ = r.Invalidate(ctx, userID)
			return nil, false, fmt.Errorf("decode cached ride %s: %w", field, err)
		}
		out = append(out, ride)
	}
	SortNewestFirst(out)
	return out, true, nil
}

func (r *Redis) Epoch(ctx context.Context, userID string) (uint64, error) {
	n, err := r.client.Get(ctx, r.epochKey(userID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *Redis) Put(ctx context.Context, userID string, rides []models.Ride, epoch uint64) error {
	args := make([]interface{}, 0, 2*len(rides)+4)
	args = append(args, strconv.FormatUint(epoch, 10), r.ttl.Milliseconds(), presenceField, "")
	for _, ride := range rides {
		b, err := json.Marshal(ride)
		if err != nil {
			return err
		}
		args = append(args, strconv.FormatInt(ride.ID, 10), b)
	}
	keys := []string{r.listKey(userID), r.epochKey(userID)}
	return putScript.Run(ctx, r.client, keys, args...).Err()
}

func (r *Redis) Replace(ctx context.Context, ride models.Ride) error {
	b, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	field := strconv.FormatInt(ride.ID, 10)
	for _, id := range owners(ride) {
		keys := []string{r.listKey(id), r.epochKey(id)}
		if err := replaceScript.Run(ctx, r.client, keys, field, b).Err(); err != nil {
			return fmt.Errorf("replace ride %d for %s: %w", ride.ID, id, err)
		}
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	return invalidateScript.Run(ctx, r.client, []string{r.listKey(userID), r.epochKey(userID)}).Err()
}

// Revoke marks a token id as signed out until it would have expired anyway.
func (r *Redis) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+"revoked:"+tokenID, "1", ttl).Err()
}

func (r *Redis) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+"revoked:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

package chain

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCASScript performs the compare-and-set atomically server-side.
// KEYS[1] = device state key (e.g. "taric:chain:dev-1")
// ARGV[1] = expected hash ("" when no prior state is expected)
// ARGV[2] = expected nonce
// ARGV[3] = "1" if prior state is expected, "0" otherwise
// ARGV[4] = new hash
// ARGV[5] = new nonce
var redisCASScript = redis.NewScript(`
local key = KEYS[1]
local state = redis.call("HMGET", key, "hash", "nonce")
local hash = state[1]
local nonce = state[2]

if ARGV[3] == "1" then
    if not hash then return 0 end
    if hash ~= ARGV[1] then return 0 end
    if nonce ~= ARGV[2] then return 0 end
else
    if hash then return 0 end
end

redis.call("HSET", key, "hash", ARGV[4], "nonce", ARGV[5])
return 1
`)

// RedisStore keeps chain state in Redis so several verifier processes can
// share one fleet. The verifier commits through a Lua compare-and-set;
// Update is an unconditional plain HSET that bypasses the script.
//
// The Store contract is synchronous, so calls bridge to Redis with a bounded
// internal context. Errors degrade to "no state" reads and failed commits;
// the verifier then rejects rather than accepting on unknown state.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// NewRedisStore creates a chain store backed by the given Redis client.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "taric:chain:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, timeout: 2 * time.Second}
}

func (s *RedisStore) key(deviceID string) string { return s.keyPrefix + deviceID }

func (s *RedisStore) LastHash(deviceID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, err := s.client.HGet(ctx, s.key(deviceID), "hash").Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *RedisStore) LastNonce(deviceID string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, err := s.client.HGet(ctx, s.key(deviceID), "nonce").Uint64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *RedisStore) Update(deviceID, lastHash string, lastNonce uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.client.HSet(ctx, s.key(deviceID), "hash", lastHash, "nonce", lastNonce)
}

// CompareAndSet implements ConditionalStore via the Lua script.
func (s *RedisStore) CompareAndSet(deviceID, expectHash string, expectNonce uint64, havePrior bool, newHash string, newNonce uint64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	prior := "0"
	if havePrior {
		prior = "1"
	}
	res, err := redisCASScript.Run(ctx, s.client,
		[]string{s.key(deviceID)},
		expectHash, expectNonce, prior, newHash, newNonce,
	).Int()
	if err != nil {
		return false
	}
	return res == 1
}

var _ ConditionalStore = (*RedisStore)(nil)

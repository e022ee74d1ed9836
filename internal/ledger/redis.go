package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields: credits, premium (0/1), premium_expiry (unix seconds, 0 = none).
const (
	fieldCredits = "credits"
	fieldPremium = "premium"
	fieldExpiry  = "premium_expiry"
)

// reserveScript provisions, lazily downgrades, and spends in one server-side
// step. KEYS[1] account hash; ARGV[1] now (unix), ARGV[2] default credits.
// Returns {decision, credits, downgraded}.
var reserveScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'credits', ARGV[2])
redis.call('HSETNX', KEYS[1], 'premium', 0)
redis.call('HSETNX', KEYS[1], 'premium_expiry', 0)
local now = tonumber(ARGV[1])
local credits = tonumber(redis.call('HGET', KEYS[1], 'credits'))
local premium = tonumber(redis.call('HGET', KEYS[1], 'premium'))
local expiry = tonumber(redis.call('HGET', KEYS[1], 'premium_expiry'))
local downgraded = 0
if premium == 1 and expiry > 0 and expiry <= now then
  redis.call('HSET', KEYS[1], 'premium', 0, 'premium_expiry', 0)
  premium = 0
  downgraded = 1
end
if premium == 1 then
  return {'premium', credits, downgraded}
end
if credits > 0 then
  credits = redis.call('HINCRBY', KEYS[1], 'credits', -1)
  return {'credit', credits, downgraded}
end
return {'denied', credits, downgraded}
`)

// grantScript provisions the account before adding credits so a first grant
// starts from the default balance.
var grantScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'credits', ARGV[2])
redis.call('HSETNX', KEYS[1], 'premium', 0)
redis.call('HSETNX', KEYS[1], 'premium_expiry', 0)
return redis.call('HINCRBY', KEYS[1], 'credits', ARGV[1])
`)

// RedisLedger keeps balances in Redis hashes.
type RedisLedger struct {
	client         redis.UniversalClient
	prefix         string
	defaultCredits int64
}

// NewRedisLedger wraps client. Keys are "<prefix>user:<id>".
func NewRedisLedger(client redis.UniversalClient, prefix string, defaultCredits int64) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix, defaultCredits: defaultCredits}
}

// DialRedis opens a client and verifies connectivity.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLedger) key(userID int64) string {
	return l.prefix + "user:" + strconv.FormatInt(userID, 10)
}

// CheckAndReserve runs the reservation script atomically on the server.
func (l *RedisLedger) CheckAndReserve(ctx context.Context, userID int64, now time.Time) (Reservation, error) {
	raw, err := reserveScript.Run(ctx, l.client, []string{l.key(userID)}, now.Unix(), l.defaultCredits).Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("redis reserve: %w", err)
	}
	if len(raw) != 3 {
		return Reservation{}, fmt.Errorf("redis reserve: unexpected reply %v", raw)
	}
	decision, ok := raw[0].(string)
	if !ok {
		return Reservation{}, fmt.Errorf("redis reserve: unexpected decision %v", raw[0])
	}
	credits, _ := raw[1].(int64)
	downgraded, _ := raw[2].(int64)
	return Reservation{Decision: Decision(decision), Credits: credits, Downgraded: downgraded == 1}, nil
}

// Account reads the balance without provisioning.
func (l *RedisLedger) Account(ctx context.Context, userID int64) (Account, error) {
	values, err := l.client.HGetAll(ctx, l.key(userID)).Result()
	if err != nil {
		return Account{}, fmt.Errorf("redis account: %w", err)
	}
	acct := Account{UserID: userID, Credits: l.defaultCredits}
	if len(values) == 0 {
		return acct, nil
	}
	if v, ok := values[fieldCredits]; ok {
		if acct.Credits, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Account{}, fmt.Errorf("redis account credits: %w", err)
		}
	}
	acct.Premium = values[fieldPremium] == "1"
	if v := values[fieldExpiry]; v != "" && v != "0" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Account{}, fmt.Errorf("redis account expiry: %w", err)
		}
		expiry := time.Unix(secs, 0).UTC()
		acct.PremiumExpiry = &expiry
	}
	return acct, nil
}

// Grant adds credits (negative values deduct).
func (l *RedisLedger) Grant(ctx context.Context, userID int64, credits int64) (Account, error) {
	if err := grantScript.Run(ctx, l.client, []string{l.key(userID)}, credits, l.defaultCredits).Err(); err != nil {
		return Account{}, fmt.Errorf("redis grant: %w", err)
	}
	return l.Account(ctx, userID)
}

// SetPremium marks the account premium until expiry.
func (l *RedisLedger) SetPremium(ctx context.Context, userID int64, expiry *time.Time) error {
	var secs int64
	if expiry != nil {
		secs = expiry.Unix()
	}
	key := l.key(userID)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCredits, l.defaultCredits)
		pipe.HSet(ctx, key, fieldPremium, 1, fieldExpiry, secs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set premium: %w", err)
	}
	return nil
}

// RevokePremium clears any premium grant.
func (l *RedisLedger) RevokePremium(ctx context.Context, userID int64) error {
	err := l.client.HSet(ctx, l.key(userID), fieldPremium, 0, fieldExpiry, 0).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis revoke premium: %w", err)
	}
	return nil
}

var _ Ledger = (*RedisLedger)(nil)

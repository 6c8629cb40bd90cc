package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/wirebeam/wirebeam/sessions"
)

const (
	maxCreateAttempts = 5
	maxTxAttempts     = 8

	// Session keys outlive their logical deadline by this margin so the
	// sweep, not Redis key expiry, is what removes live records.
	expiryMargin = time.Minute
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: WIREBEAM_KEY_PREFIX
	KeyPrefix string `env:"WIREBEAM_KEY_PREFIX,default=wirebeam:"`
}

// Host implements sessions.Store on Redis.
type Host struct {
	client    *redis.Client
	keyPrefix string

	ttl    time.Duration
	otpLen int
	now    func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithTTL overrides the session lifetime applied at creation.
func WithTTL(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.ttl = d
		}
	}
}

// WithOTPLength overrides the number of digits in generated OTPs.
func WithOTPLength(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.otpLen = n
		}
	}
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

func New(cfg Config, opts ...Option) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "wirebeam:"
	}
	h := &Host{
		client:    cl,
		keyPrefix: prefix,
		ttl:       sessions.DefaultTTL,
		otpLen:    sessions.DefaultOTPLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Host, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

// --- Key helpers ---

func (h *Host) sessionKey(otp string) string     { return h.keyPrefix + "session:" + otp }
func (h *Host) expiryKey() string                { return h.keyPrefix + "expiry" }
func (h *Host) clientKey(clientID string) string { return h.keyPrefix + "client:" + clientID }

func (h *Host) keyTTL() time.Duration { return h.ttl + expiryMargin }

// --- Store implementation ---

func (h *Host) Create(ctx context.Context) (*sessions.Session, error) {
	now := h.now()
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		otp, err := sessions.GenerateOTP(h.otpLen)
		if err != nil {
			return nil, err
		}
		sess := &sessions.Session{
			OTP:       otp,
			Status:    sessions.StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(h.ttl),
		}
		buf, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		ok, err := h.client.SetNX(ctx, h.sessionKey(otp), buf, h.keyTTL()).Result()
		if err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		if !ok {
			// Live collision; try a fresh code.
			continue
		}
		err = h.client.ZAdd(ctx, h.expiryKey(), redis.Z{
			Score:  float64(sess.ExpiresAt.UnixMilli()),
			Member: otp,
		}).Err()
		if err != nil {
			return nil, fmt.Errorf("index session expiry: %w", err)
		}
		return sess, nil
	}
	return nil, sessions.ErrCollision
}

func (h *Host) Get(ctx context.Context, otp string) (*sessions.Session, error) {
	raw, err := h.client.Get(ctx, h.sessionKey(otp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess sessions.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// update applies fn to the session under an optimistic WATCH transaction,
// retrying on contention.
func (h *Host) update(ctx context.Context, otp string, fn func(*sessions.Session)) (*sessions.Session, error) {
	key := h.sessionKey(otp)
	var out *sessions.Session
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := h.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return sessions.ErrNotFound
			}
			if err != nil {
				return err
			}
			var sess sessions.Session
			if err := json.Unmarshal(raw, &sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			fn(&sess)
			buf, err := json.Marshal(&sess)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			out = &sess
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update session %s: %w", otp, redis.TxFailedErr)
}

func (h *Host) RegisterRole(ctx context.Context, otp, clientID string, role sessions.Role) (*sessions.Session, error) {
	sess, err := h.update(ctx, otp, func(s *sessions.Session) {
		switch role {
		case sessions.RoleSender:
			s.SenderID = clientID
		case sessions.RoleReceiver:
			s.ReceiverID = clientID
		}
	})
	if err != nil {
		return nil, err
	}
	// Best-effort reverse index; FindByClient re-checks bindings, so a stale
	// member is harmless.
	ck := h.clientKey(clientID)
	if err := h.client.SAdd(ctx, ck, otp).Err(); err == nil {
		_ = h.client.Expire(ctx, ck, h.keyTTL()).Err()
	}
	return sess, nil
}

func (h *Host) AppendFile(ctx context.Context, otp string, metadata json.RawMessage) (*sessions.Session, error) {
	meta := append(json.RawMessage(nil), metadata...)
	return h.update(ctx, otp, func(s *sessions.Session) {
		s.Files = append(s.Files, meta)
	})
}

func (h *Host) Remove(ctx context.Context, otp string) error {
	c := context.WithoutCancel(ctx)
	_, err := h.client.TxPipelined(c, func(pipe redis.Pipeliner) error {
		pipe.Del(c, h.sessionKey(otp))
		pipe.ZRem(c, h.expiryKey(), otp)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (h *Host) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)
	otps, err := h.client.ZRangeByScore(ctx, h.expiryKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}
	if len(otps) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(otps))
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, otp := range otps {
			members[i] = otp
			pipe.Del(ctx, h.sessionKey(otp))
		}
		pipe.ZRem(ctx, h.expiryKey(), members...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	return otps, nil
}

func (h *Host) FindByClient(ctx context.Context, clientID string) ([]*sessions.Session, error) {
	otps, err := h.client.SMembers(ctx, h.clientKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("scan client index: %w", err)
	}
	var found []*sessions.Session
	for _, otp := range otps {
		sess, err := h.Get(ctx, otp)
		if errors.Is(err, sessions.ErrNotFound) {
			// Stale index entry; drop it opportunistically.
			_ = h.client.SRem(ctx, h.clientKey(clientID), otp).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Bound(clientID) {
			found = append(found, sess)
		}
	}
	return found, nil
}

var _ sessions.Store = (*Host)(nil)

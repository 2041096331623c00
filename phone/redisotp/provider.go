// Package redisotp issues and confirms phone one-time codes stored in Redis.
package redisotp

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/phone"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	fieldPhone     = "phone"
	fieldHash      = "hash"
	fieldAttempts  = "attempts"
	fieldExpiresAt = "expires_at"
	fieldConfirmed = "confirmed"
)

// Config controls code lifetime and throttling.
type Config struct {
	Prefix      string
	CodeLength  int
	CodeTTL     time.Duration
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
	BcryptCost  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:      "portal:otp",
		CodeLength:  6,
		CodeTTL:     5 * time.Minute,
		MaxAttempts: 5,
		SendLimit:   5,
		SendWindow:  time.Hour,
		BcryptCost:  bcrypt.DefaultCost,
	}
}

// Sender delivers a code to a phone number.
type Sender interface {
	Send(ctx context.Context, e164, code string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, e164, code string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, e164, code string) error {
	return f(ctx, e164, code)
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	Logger auth.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, e164, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = auth.DefaultLogger("auth:phone:sender")
	}
	logger.Info("verification code issued", "phone", e164, "code", code)
	return nil
}

// Option configures the Provider.
type Option func(*Provider)

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func(length int) (string, error)) Option {
	return func(p *Provider) {
		if gen != nil {
			p.generate = gen
		}
	}
}

// Provider implements phone.Provider on top of Redis.
type Provider struct {
	rdb      *redis.Client
	sender   Sender
	config   Config
	logger   auth.Logger
	now      func() time.Time
	generate func(length int) (string, error)
}

var (
	_ phone.Provider  = (*Provider)(nil)
	_ phone.Completer = (*Provider)(nil)
)

// New returns a Provider. Zero config values fall back to DefaultConfig.
func New(rdb *redis.Client, sender Sender, cfg Config, opts ...Option) *Provider {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SendLimit <= 0 {
		cfg.SendLimit = def.SendLimit
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = def.SendWindow
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	if sender == nil {
		sender = LogSender{}
	}

	p := &Provider{
		rdb:      rdb,
		sender:   sender,
		config:   cfg,
		logger:   auth.DefaultLogger("auth:phone:redisotp"),
		now:      time.Now,
		generate: randomDigits,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// SendChallenge throttles, stores a hashed code and delivers it.
func (p *Provider) SendChallenge(ctx context.Context, e164 string) (phone.Challenge, error) {
	if err := p.throttle(ctx, e164); err != nil {
		return phone.Challenge{}, err
	}

	code, err := p.generate(p.config.CodeLength)
	if err != nil {
		return phone.Challenge{}, auth.WrapError(auth.ErrUnknown, err, map[string]any{"stage": "generate"})
	}

	hash, err := auth.HashCode(code, p.config.BcryptCost)
	if err != nil {
		return phone.Challenge{}, auth.WrapError(auth.ErrUnknown, err, map[string]any{"stage": "hash"})
	}

	verificationID := uuid.NewString()
	expiresAt := p.now().Add(p.config.CodeTTL)
	key := p.challengeKey(verificationID)

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			fieldPhone:     e164,
			fieldHash:      string(hash),
			fieldAttempts:  0,
			fieldExpiresAt: expiresAt.Unix(),
		})
		pipe.Expire(ctx, key, p.config.CodeTTL)
		return nil
	})
	if err != nil {
		return phone.Challenge{}, auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "store"})
	}

	if err := p.sender.Send(ctx, e164, code); err != nil {
		_ = p.rdb.Del(ctx, key).Err()
		return phone.Challenge{}, auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "deliver"})
	}

	p.logger.Debug("phone challenge stored", "verification_id", verificationID, "phone", phone.Mask(e164))

	return phone.Challenge{
		VerificationID: verificationID,
		ExpiresAt:      expiresAt,
	}, nil
}

// ConfirmCode checks code against the stored challenge. A matching code
// marks the challenge confirmed and the same code keeps confirming it until
// Complete or the code TTL removes it. Too many wrong codes consume it.
func (p *Provider) ConfirmCode(ctx context.Context, verificationID, code string) (auth.PhoneCredential, error) {
	key := p.challengeKey(verificationID)
	var cred auth.PhoneCredential

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return auth.ErrChallengeExpired
		}

		if exp, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64); err == nil && p.now().Unix() >= exp {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			return auth.ErrChallengeExpired
		}

		if auth.CompareCodeAndHash(code, fields[fieldHash]) != nil {
			attempts, _ := strconv.Atoi(fields[fieldAttempts])
			attempts++
			if attempts >= p.config.MaxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return auth.ErrChallengeExpired.Clone().WithMetadata(map[string]any{
					"reason": "too many attempts",
				})
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldAttempts, attempts)
				return nil
			})
			if err != nil {
				return err
			}
			return auth.ErrInvalidCode.Clone().WithMetadata(map[string]any{
				"remaining_attempts": p.config.MaxAttempts - attempts,
			})
		}

		e164 := fields[fieldPhone]
		phoneUID, err := hashid.NewUUID(e164)
		if err != nil {
			return err
		}

		if fields[fieldConfirmed] == "" {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldConfirmed, p.now().Unix())
				return nil
			})
			if err != nil {
				return err
			}
		}

		cred = auth.PhoneCredential{
			VerificationID: verificationID,
			PhoneNumber:    e164,
			PhoneUID:       phoneUID.String(),
		}
		return nil
	}

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		err := p.rdb.Watch(ctx, txf, key)
		if err == nil {
			return cred, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if auth.ErrorKind(err) != auth.KindUnknown {
			return auth.PhoneCredential{}, err
		}
		return auth.PhoneCredential{}, auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "confirm"})
	}

	return auth.PhoneCredential{}, auth.ErrVerificationInProgress.Clone().WithMetadata(map[string]any{
		"reason": "concurrent confirmation",
	})
}

// Complete drops a confirmed challenge once the phone was linked.
func (p *Provider) Complete(ctx context.Context, verificationID string) error {
	if err := p.rdb.Del(ctx, p.challengeKey(verificationID)).Err(); err != nil {
		return auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "complete"})
	}
	return nil
}

func (p *Provider) throttle(ctx context.Context, e164 string) error {
	key := p.throttleKey(e164)

	count, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		return auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "throttle"})
	}
	if count == 1 {
		if err := p.rdb.Expire(ctx, key, p.config.SendWindow).Err(); err != nil {
			return auth.WrapError(auth.ErrNetwork, err, map[string]any{"stage": "throttle"})
		}
	}

	if count <= int64(p.config.SendLimit) {
		return nil
	}

	ttl, err := p.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = p.config.SendWindow
	}
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return auth.ErrRateLimited.Clone().WithMetadata(map[string]any{
		phone.RetryAfterKey: seconds,
	})
}

func (p *Provider) challengeKey(verificationID string) string {
	return p.config.Prefix + ":challenge:" + verificationID
}

func (p *Provider) throttleKey(e164 string) string {
	return p.config.Prefix + ":throttle:" + e164
}

func randomDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrOTPUnavailable = errors.New("redis_not_configured")

// OTPStore keeps one-time student login codes in Redis. A code is deleted on the first
// verification attempt, right or wrong.
type OTPStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewOTPStore(client *redis.Client, ttl time.Duration) *OTPStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OTPStore{redis: client, ttl: ttl}
}

// Enabled reports whether a Redis client backs the store.
func (s *OTPStore) Enabled() bool {
	return s != nil && s.redis != nil
}

func (s *OTPStore) Issue(ctx context.Context, registrationNo string) (string, error) {
	if s == nil || s.redis == nil {
		return "", ErrOTPUnavailable
	}
	code, err := randomCode()
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, otpKey(registrationNo), code, s.ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

func (s *OTPStore) Consume(ctx context.Context, registrationNo, code string) (bool, error) {
	if s == nil || s.redis == nil {
		return false, ErrOTPUnavailable
	}
	stored, err := s.redis.GetDel(ctx, otpKey(registrationNo)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) == 1, nil
}

func randomCode() (string, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", value.Int64()), nil
}

func otpKey(registrationNo string) string {
	return fmt.Sprintf("student_otp:%s", strings.ToUpper(registrationNo))
}

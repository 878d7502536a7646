package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kiosktime/internal/metrics"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// BcryptCost is the cost factor for bcrypt PIN hashing.
const BcryptCost = 12

var (
	// ErrInvalidPIN is returned when a PIN does not match.
	ErrInvalidPIN = errors.New("invalid pin")

	// ErrTooManyAttempts is returned when PIN attempts exceed the rate limit.
	ErrTooManyAttempts = errors.New("too many pin attempts")
)

// HashPIN hashes a PIN using bcrypt.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// PINVerifier checks the parental PIN with a per-minute attempt budget.
type PINVerifier struct {
	hash    []byte
	limiter *rate.Limiter
}

// NewPINVerifier creates a verifier. A non-empty pinHash takes precedence
// over the plain PIN, which is hashed on construction.
func NewPINVerifier(pin, pinHash string, attemptsPerMinute int) (*PINVerifier, error) {
	if pinHash == "" {
		if pin == "" {
			return nil, errors.New("a pin or pin hash is required")
		}
		hashed, err := HashPIN(pin)
		if err != nil {
			return nil, err
		}
		pinHash = hashed
	} else if _, err := bcrypt.Cost([]byte(pinHash)); err != nil {
		return nil, fmt.Errorf("invalid pin hash: %w", err)
	}

	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 5
	}

	return &PINVerifier{
		hash:    []byte(pinHash),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(attemptsPerMinute)), attemptsPerMinute),
	}, nil
}

// Verify checks pin. Attempts beyond the budget fail without comparing.
func (v *PINVerifier) Verify(pin string) error {
	if !v.limiter.Allow() {
		metrics.PINAttempts.WithLabelValues("rate_limited").Inc()
		return ErrTooManyAttempts
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(pin)); err != nil {
		metrics.PINAttempts.WithLabelValues("invalid").Inc()
		return ErrInvalidPIN
	}
	metrics.PINAttempts.WithLabelValues("ok").Inc()
	return nil
}

package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenExpiration is the default expiration time for parent tokens.
	DefaultTokenExpiration = 12 * time.Hour

	// ParentSubject is the subject of every parent token.
	ParentSubject = "parent"
)

// ErrInvalidToken is returned when a JWT token is invalid.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims for a parent session.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// PINChecker verifies the parental PIN.
type PINChecker interface {
	VerifyPIN(pin string) error
}

// AuthService exchanges the parental PIN for signed tokens.
type AuthService struct {
	pins            PINChecker
	jwtSecret       []byte
	tokenExpiration time.Duration
	now             func() time.Time
}

// NewAuthService creates a new authentication service. Without a secret a
// random one is generated, so tokens do not survive a restart.
func NewAuthService(pins PINChecker, jwtSecret string, tokenExpiration time.Duration) (*AuthService, error) {
	if tokenExpiration <= 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	secret := []byte(jwtSecret)
	if len(secret) == 0 {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = generated
	}

	return &AuthService{
		pins:            pins,
		jwtSecret:       secret,
		tokenExpiration: tokenExpiration,
		now:             time.Now,
	}, nil
}

// Login verifies the PIN and returns a token with its expiry.
func (s *AuthService) Login(pin string) (string, time.Time, error) {
	if err := s.pins.VerifyPIN(pin); err != nil {
		return "", time.Time{}, err
	}
	return s.GenerateToken()
}

// GenerateToken generates a new parent token.
func (s *AuthService) GenerateToken() (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenExpiration)
	claims := &Claims{
		Role: ParentSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   ParentSubject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signedToken, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithSubject(ParentSubject))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateSecret() ([]byte, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(bytes)), nil
}

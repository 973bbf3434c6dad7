package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-lms/internal/config"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active, please contact support to reset")
	ErrNoActiveSession      = errors.New("no active session")
	ErrSessionInvalidated   = errors.New("session invalidated")
	ErrInvalidToken         = errors.New("invalid token")
)

const tokenIssuer = "exstem-lms"

// TokenType distinguishes token audiences.
type TokenType string

const TokenTypeStudent TokenType = "student"

// Claims identify a student and the login session (the JWT ID) they belong to.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	NISN      string    `json:"nisn,omitempty"`
}

// AuthService issues student tokens and enforces one signed-in device per
// student through a Redis key holding the active token ID.
type AuthService struct {
	cfg   *config.Config
	rdb   *redis.Client
	clock clockwork.Clock
}

// NewAuthService creates a new AuthService. rdb may be nil for tools that
// only hash passwords.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, clock: clockwork.NewRealClock()}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateStudentToken signs a token and claims the student's login slot.
// The claim is a SETNX, so two devices racing to sign in cannot both win.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID int, nisn string) (string, error) {
	jti := uuid.NewString()
	now := s.clock.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    tokenIssuer,
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
		NISN:      nisn,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	key := config.CacheKey.StudentSessionKey(studentID)
	claimed, err := s.rdb.SetNX(ctx, key, jti, s.cfg.JWTExpiry).Result()
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	if !claimed {
		return "", ErrSessionAlreadyActive
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims. Expired
// tokens wrap jwt.ErrTokenExpired.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return []byte(s.cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active session in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.StudentSessionKey(studentID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNoActiveSession
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetStudentSession frees the student's login slot so another device can sign in.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentID)).Err()
}

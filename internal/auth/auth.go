package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers both unknown emails and wrong passwords so
// login responses cannot be used to enumerate accounts.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInvalidToken is returned for missing, malformed or expired tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

type Admin struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
}

// Store abstracts admin persistence; PgStore is the production
// implementation and MemStore backs the tests.
type Store interface {
	AdminByEmail(ctx context.Context, email string) (Admin, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore { return &PgStore{pool: pool} }

func (s *PgStore) AdminByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	var first, last *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, password_hash, created_at, last_login_at
		FROM admins WHERE email = $1 AND is_active`, email,
	).Scan(&a.ID, &a.Email, &first, &last, &a.PasswordHash, &a.CreatedAt, &a.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Admin{}, ErrInvalidCredentials
	}
	if err != nil {
		return Admin{}, fmt.Errorf("load admin: %w", err)
	}
	a.Name = fullName(first, last)
	return a, nil
}

// fullName joins the optional name columns into the display name carried
// by the token claims.
func fullName(first, last *string) string {
	var parts []string
	for _, p := range []*string{first, last} {
		if p == nil {
			continue
		}
		if v := strings.TrimSpace(*p); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func (s *PgStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE admins SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

// MemStore holds a fixed set of admins. Test hook.
type MemStore struct {
	Admins map[string]Admin
}

func (s *MemStore) AdminByEmail(_ context.Context, email string) (Admin, error) {
	a, ok := s.Admins[email]
	if !ok {
		return Admin{}, ErrInvalidCredentials
	}
	return a, nil
}

func (s *MemStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	for k, a := range s.Admins {
		if a.ID == id {
			a.LastLoginAt = &at
			s.Admins[k] = a
		}
	}
	return nil
}

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Service authenticates admins and issues HS256 session tokens.
type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, secret string, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{store: store, secret: []byte(secret), ttl: ttl, log: log, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login verifies the password and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, Admin, error) {
	admin, err := s.store.AdminByEmail(ctx, email)
	if err != nil {
		return "", Admin{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", Admin{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email: admin.Email,
		Name:  admin.Name,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Admin{}, fmt.Errorf("sign token: %w", err)
	}

	if err := s.store.TouchLastLogin(ctx, admin.ID, now); err != nil {
		s.log.Warn("touch last login failed", zap.String("admin_id", admin.ID), zap.Error(err))
	}
	admin.LastLoginAt = &now
	return token, admin, nil
}

// Parse validates a token string and returns its claims.
func (s *Service) Parse(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

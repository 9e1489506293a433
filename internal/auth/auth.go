package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"qgen-backend/internal/config"
	"qgen-backend/internal/database"
	"qgen-backend/pkg/api"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Username() string {
	return c.Subject
}

type Service struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

func NewService(db *gorm.DB, cfg config.AuthConfig) *Service {
	return &Service{db: db, secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL()}
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hash), nil
}

// CreateUser stores a user unless one with the same username already exists. It reports
// whether a row was inserted.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (bool, error) {
	if role != database.RoleExpert && role != database.RoleUser {
		return false, fmt.Errorf("unknown role '%s'", role)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("error checking for user: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	user := database.User{
		Id:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return false, fmt.Errorf("error creating user: %w", err)
	}
	return true, nil
}

func (s *Service) SeedUsers(ctx context.Context, cfg config.AuthConfig) error {
	seeds := []struct{ username, password, role string }{
		{cfg.SeedExpertUsername, cfg.SeedExpertPassword, database.RoleExpert},
		{cfg.SeedUserUsername, cfg.SeedUserPassword, database.RoleUser},
	}
	for _, seed := range seeds {
		if seed.username == "" {
			continue
		}
		created, err := s.CreateUser(ctx, seed.username, seed.password, seed.role)
		if err != nil {
			return fmt.Errorf("error seeding user '%s': %w", seed.username, err)
		}
		if created {
			slog.Info("seeded user", "username", seed.username, "role", seed.role)
		}
	}
	return nil
}

func (s *Service) Login(ctx context.Context, username, password string) (api.LoginResponse, error) {
	var user database.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.LoginResponse{}, ErrInvalidCredentials
		}
		return api.LoginResponse{}, fmt.Errorf("error loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return api.LoginResponse{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.Username, user.Role)
	if err != nil {
		return api.LoginResponse{}, err
	}
	return api.LoginResponse{AccessToken: token, TokenType: "bearer", Role: user.Role}, nil
}

func (s *Service) IssueToken(username, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

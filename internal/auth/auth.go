package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/shockx/marketplace/internal/store"
)

// AuthService handles user registration and sign-in.
type AuthService struct {
	Store    store.Store
	Secret   []byte
	TokenTTL time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(s store.Store, secret []byte, ttl time.Duration) *AuthService {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{Store: s, Secret: secret, TokenTTL: ttl}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, email, name, password string) (int, error) {
	if email == "" {
		return 0, fmt.Errorf("email cannot be empty")
	}
	if name == "" {
		return 0, fmt.Errorf("name cannot be empty")
	}
	if len(password) < 8 {
		return 0, fmt.Errorf("password too short (min 8 characters)")
	}
	if len(password) > 100 {
		return 0, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	user, err := s.Store.CreateUser(ctx, email, name, string(hashedPassword))
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return user.ID, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.Store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     time.Now().Add(s.TokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts the user ID from a JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}
	return int(userID), nil
}

package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"wikimport/internal/database"
	"wikimport/internal/models"
)

// Account errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidPassword    = errors.New("password does not meet requirements")
	ErrInvalidUsername    = errors.New("username does not meet requirements")
	ErrInvalidRole        = errors.New("invalid role")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// AccountService manages the accounts imports are authored by and the API
// callers that start them.
type AccountService struct {
	db         *database.DB
	bcryptCost int
	log        *zap.Logger
}

// NewAccountService creates an account service hashing with bcryptCost.
func NewAccountService(db *database.DB, bcryptCost int, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{
		db:         db,
		bcryptCost: bcryptCost,
		log:        log.Named("accounts"),
	}
}

// EnsureAccount returns the importer account named username, creating it
// with an unusable random password when it does not exist.
func (s *AccountService) EnsureAccount(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := s.ValidateUsername(username); err != nil {
		return nil, err
	}

	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user = &models.User{
		Username:     username,
		Email:        strings.ToLower(username) + "@localhost",
		PasswordHash: string(hash),
		Role:         models.RoleImporter,
		IsActive:     true,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("account created", zap.String("username", username), zap.String("role", string(user.Role)))
	return user, nil
}

// CreateUser creates an account that can sign in with password.
func (s *AccountService) CreateUser(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := s.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := s.ValidatePassword(password); err != nil {
		return nil, err
	}
	if role == "" {
		role = models.RoleViewer
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	existing, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        strings.ToLower(username) + "@localhost",
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user if valid.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.db.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("authentication error: %w", err)
	}

	if user == nil {
		// Hash anyway so a missing user costs the same as a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$dummy.hash.for.timing.attack"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.db.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.log.Warn("failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// SetPassword replaces a user's password.
func (s *AccountService) SetPassword(ctx context.Context, userID int64, password string) error {
	if err := s.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.db.UpdateUserPassword(ctx, userID, string(hash))
}

// GetUserByID retrieves a user by ID.
func (s *AccountService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUserByUsername retrieves a user by name.
func (s *AccountService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.db.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ValidateUsername checks if a username meets requirements.
func (s *AccountService) ValidateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("%w: username must be at least 3 characters", ErrInvalidUsername)
	}
	if len(username) > 64 {
		return fmt.Errorf("%w: username must be at most 64 characters", ErrInvalidUsername)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: username must start with a letter and contain only letters, numbers, dots, underscores, and hyphens", ErrInvalidUsername)
	}
	return nil
}

// ValidatePassword checks if a password meets security requirements.
func (s *AccountService) ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidPassword)
	}
	if len(password) > 72 {
		// bcrypt has a maximum length of 72 bytes
		return fmt.Errorf("%w: password must be at most 72 characters", ErrInvalidPassword)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidPassword)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidPassword)
	}
	if !hasDigit {
		return fmt.Errorf("%w: password must contain at least one digit", ErrInvalidPassword)
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

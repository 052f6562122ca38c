package app

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mediassist/internal/model"
	"mediassist/internal/pkg/jwtutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrProfileNotFound   = errors.New("profile not found")
)

const minPasswordLength = 8

type ProfileStore interface {
	Create(profile *model.Profile) error
	GetByUsername(username string) (*model.Profile, error)
	GetByEmail(email string) (*model.Profile, error)
	GetByID(id uint) (*model.Profile, error)
}

type AuthService struct {
	profiles      ProfileStore
	jwtSecret     string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token   string
	Profile *model.Profile
}

func NewAuthService(profiles ProfileStore, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		profiles:      profiles,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Register(input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if username == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	existing, err := s.profiles.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}
	existing, err = s.profiles.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	profile := &model.Profile{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(input.FullName),
		PasswordHash: string(hash),
	}
	if err := s.profiles.Create(profile); err != nil {
		return nil, err
	}
	return s.issue(profile)
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	profile, err := s.profiles.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(profile)
}

func (s *AuthService) GetProfile(id uint) (*model.Profile, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	profile, err := s.profiles.GetByID(id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	return profile, nil
}

func (s *AuthService) issue(profile *model.Profile) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, profile.ID, profile.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Profile: profile}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/util"
)

type UserStore interface {
	EnsureUser(ctx context.Context, email string) (int, error)
}

type AccountCreator interface {
	Create(ctx context.Context, a *model.Account) error
}

type AuthService struct {
	users     UserStore
	accounts  AccountCreator
	jwtSecret string
	tokenTTL  time.Duration
}

func NewAuthService(users UserStore, accounts AccountCreator, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		accounts:  accounts,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// IssueToken creates the user on first use and returns a signed API token.
func (s *AuthService) IssueToken(ctx context.Context, email string) (string, int, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", 0, errors.New("email required")
	}
	userID, err := s.users.EnsureUser(ctx, email)
	if err != nil {
		return "", 0, fmt.Errorf("ensure user: %w", err)
	}
	token, err := util.GenerateJWT(userID, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return "", 0, err
	}
	return token, userID, nil
}

// AddAccount attaches a mail account to the user identified by ownerEmail.
func (s *AuthService) AddAccount(ctx context.Context, ownerEmail string, a *model.Account) error {
	switch a.Provider {
	case model.ProviderIMAP:
		if a.Host == "" || a.Username == "" {
			return errors.New("imap account needs host and username")
		}
		if a.Port == 0 {
			a.Port = 993
		}
	case model.ProviderGmail:
		if a.RefreshToken == "" {
			return errors.New("gmail account needs a refresh token")
		}
	default:
		return fmt.Errorf("unsupported provider %q", a.Provider)
	}
	if a.Email == "" {
		return errors.New("account email required")
	}

	userID, err := s.users.EnsureUser(ctx, strings.ToLower(strings.TrimSpace(ownerEmail)))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	a.UserID = userID
	a.Email = strings.ToLower(a.Email)
	a.Active = true
	return s.accounts.Create(ctx, a)
}

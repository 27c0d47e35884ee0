// Package services holds the user and index registries: credentials, index
// configs and the resolution of "user/index" into stage handles.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/cryptox"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/auth"
	"github.com/dmitrijs2005/pkgindex/internal/server/config"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
)

type UserService struct {
	kfs                         *keyfs.KeyFS
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	passwordHash                string
	logger                      logging.Logger
}

func NewUserService(kfs *keyfs.KeyFS, cfg *config.Config, logger logging.Logger) *UserService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &UserService{
		kfs:                         kfs,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		passwordHash:                cfg.PasswordHash,
		logger:                      logger.With("module", "users"),
	}
}

func (s *UserService) key(user string) keyfs.Key[models.User] {
	return keyfs.USER.Key(s.kfs, user)
}

func checkUser(user string) error {
	if msg := models.CheckName("user", user); msg != "" {
		return common.NewValidationError([]string{msg})
	}
	return nil
}

// setPassword writes a fresh salt and the hash of password into u.
func (s *UserService) setPassword(u *models.User, password string) (string, error) {
	salt := cryptox.NewSalt()
	digest, err := cryptox.HashPassword(s.passwordHash, password, salt)
	if err != nil {
		return "", err
	}
	u.PwSalt = salt
	u.PwHash = digest
	u.PwAlgo = s.passwordHash
	return digest, nil
}

// SetPassword replaces the password of an existing user and returns the
// new digest.
func (s *UserService) SetPassword(ctx context.Context, user, password string) (string, error) {
	var digest string
	err := s.key(user).LockedUpdate(ctx, func(u *models.User, exists bool) error {
		if !exists {
			return &common.NotFoundError{Kind: "user", Name: user}
		}
		var err error
		digest, err = s.setPassword(u, password)
		return err
	})
	if err != nil {
		return "", err
	}
	s.logger.Info(ctx, "password changed", "user", user)
	return digest, nil
}

// Create registers user. Salt, hash and email are written in one update.
// An existing user yields common.ErrConflict.
func (s *UserService) Create(ctx context.Context, user, password, email string) (string, error) {
	if err := checkUser(user); err != nil {
		return "", err
	}
	if password == "" {
		return "", common.NewValidationError([]string{"missing password"})
	}

	var digest string
	err := s.key(user).LockedUpdate(ctx, func(u *models.User, exists bool) error {
		if exists {
			return fmt.Errorf("user %s: %w", user, common.ErrConflict)
		}
		var err error
		if digest, err = s.setPassword(u, password); err != nil {
			return err
		}
		u.Email = email
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info(ctx, "user created", "user", user, "email", email)
	return digest, nil
}

// Delete removes the user record and with it every index config the user
// owns. Index data stays until IndexService.DeleteIndex purges it.
func (s *UserService) Delete(ctx context.Context, user string) error {
	if err := s.key(user).Delete(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted", "user", user)
	return nil
}

func (s *UserService) Exists(ctx context.Context, user string) (bool, error) {
	return s.key(user).Exists(ctx)
}

func (s *UserService) List(ctx context.Context) ([]string, error) {
	return keyfs.USER.ListNames(ctx, s.kfs, "user", nil)
}

// Get returns the public view of user.
func (s *UserService) Get(ctx context.Context, user string) (*models.UserInfo, error) {
	u, err := s.key(user).Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, &common.NotFoundError{Kind: "user", Name: user}
		}
		return nil, err
	}
	return &models.UserInfo{Username: user, Email: u.Email, Indexes: u.Indexes}, nil
}

// Validate checks password against the stored hash. ok is false both for
// an unknown user and for a wrong password; err is set only when the
// record could not be read.
func (s *UserService) Validate(ctx context.Context, user, password string) (digest string, ok bool, err error) {
	u, err := s.key(user).Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	candidate, err := cryptox.HashPassword(u.PwAlgo, password, u.PwSalt)
	if err != nil {
		return "", false, err
	}
	if !cryptox.EqualDigest(candidate, u.PwHash) {
		return "", false, nil
	}
	return u.PwHash, true, nil
}

// Login validates the credentials and issues an upload token.
func (s *UserService) Login(ctx context.Context, user, password string) (string, error) {
	_, ok, err := s.Validate(ctx, user, password)
	if err != nil {
		s.logger.Error(ctx, "validate credentials", "user", user, "error", err)
		return "", common.ErrorInternal
	}
	if !ok {
		return "", common.ErrorUnauthorized
	}

	token, err := auth.GenerateToken(user, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Authenticate returns the user a token was issued to. Tokens of users
// deleted since are rejected.
func (s *UserService) Authenticate(ctx context.Context, token string) (string, error) {
	user, err := auth.GetUsernameFromToken(token, s.jwtSecret)
	if err != nil {
		return "", err
	}
	exists, err := s.Exists(ctx, user)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", common.ErrorUnauthorized
	}
	return user, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ballotd/apiserver/internal/store"
	"github.com/ballotd/apiserver/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// BootstrapAdminUsername names the protected administrator account created
// at startup. It can be neither modified nor deleted.
const BootstrapAdminUsername = "admin"

// UserRepository defines persistence operations for users.
type UserRepository interface {
	List(ctx context.Context) ([]types.User, error)
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByUsernameFold(ctx context.Context, username string) (types.User, error)
	ExistsByUsernameFold(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
	Delete(ctx context.Context, id int) error
}

// CreateUserInput carries the fields of a new account.
type CreateUserInput struct {
	Username  string
	Password  string
	Role      string
	FirstName string
	LastName  string
}

// UpdateUserInput carries profile changes. Nil fields keep their value.
type UpdateUserInput struct {
	Username  *string
	Role      *string
	FirstName *string
	LastName  *string
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo   UserRepository
	hasher PasswordHasher
	log    logrus.FieldLogger
}

func NewUserService(repo UserRepository, hasher PasswordHasher, log logrus.FieldLogger) *UserService {
	return &UserService{repo: repo, hasher: hasher, log: log}
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

func (s *UserService) Get(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, userLookupError(err)
	}
	return user, nil
}

// Authenticate verifies credentials. The username is matched ignoring case.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := s.repo.GetByUsernameFold(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		}
		return types.User{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.User{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	}
	return user, nil
}

// Current resolves the principal back to its stored profile using an exact
// username match.
func (s *UserService) Current(ctx context.Context, principal types.Principal) (types.User, error) {
	if principal.IsZero() {
		return types.User{}, ErrUnauthenticated
	}
	user, err := s.repo.GetByUsername(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: account no longer exists", ErrUnauthenticated)
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *UserService) Create(ctx context.Context, principal types.Principal, in CreateUserInput) (types.User, error) {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return types.User{}, err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return types.User{}, fmt.Errorf("%w: username and password are required", ErrBadRequest)
	}
	role := types.RoleUser
	if strings.TrimSpace(in.Role) != "" {
		parsed, ok := types.ParseRole(in.Role)
		if !ok {
			return types.User{}, fmt.Errorf("%w: unknown role %q", ErrBadRequest, in.Role)
		}
		role = parsed
	}

	exists, err := s.repo.ExistsByUsernameFold(ctx, username)
	if err != nil {
		return types.User{}, err
	}
	if exists {
		return types.User{}, fmt.Errorf("%w: username already exists", ErrConflict)
	}

	hashed, err := s.hashPassword(in.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Role:         role,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fmt.Errorf("%w: username already exists", ErrConflict)
		}
		return types.User{}, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role, "by": principal.Username}).Info("user created")
	return user, nil
}

func (s *UserService) Update(ctx context.Context, principal types.Principal, id int, in UpdateUserInput) (types.User, error) {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return types.User{}, err
	}

	user, err := s.mutableUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if username == "" {
			return types.User{}, fmt.Errorf("%w: username must not be empty", ErrBadRequest)
		}
		user.Username = username
	}
	if in.Role != nil {
		role, ok := types.ParseRole(*in.Role)
		if !ok {
			return types.User{}, fmt.Errorf("%w: unknown role %q", ErrBadRequest, *in.Role)
		}
		user.Role = role
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, fmt.Errorf("%w: user not found", ErrNotFound)
		case errors.Is(err, store.ErrConflict):
			return types.User{}, fmt.Errorf("%w: username already exists", ErrConflict)
		}
		return types.User{}, err
	}

	s.log.WithFields(logrus.Fields{"user_id": updated.ID, "by": principal.Username}).Info("user updated")
	return updated, nil
}

func (s *UserService) Delete(ctx context.Context, principal types.Principal, id int) error {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.mutableUser(ctx, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: user not found", ErrNotFound)
		case errors.Is(err, store.ErrReferenced):
			return fmt.Errorf("%w: user took part in an election", ErrConflict)
		}
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": id, "by": principal.Username}).Info("user deleted")
	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, principal types.Principal, id int, newPassword string) error {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.mutableUser(ctx, id); err != nil {
		return err
	}
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrBadRequest)
	}

	hashed, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, hashed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": id, "by": principal.Username}).Info("password reset")
	return nil
}

// EnsureBootstrapAdmin creates the protected administrator account when it
// is missing. It reports whether an account was created.
func (s *UserService) EnsureBootstrapAdmin(ctx context.Context, password string) (bool, error) {
	_, err := s.repo.GetByUsername(ctx, BootstrapAdminUsername)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if password == "" {
		return false, errors.New("bootstrap admin password is empty")
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.repo.Create(ctx, types.User{
		Username:     BootstrapAdminUsername,
		Role:         types.RoleAdmin,
		PasswordHash: hashed,
	}); err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}

	s.log.WithField("username", BootstrapAdminUsername).Info("default admin user created")
	return true, nil
}

// mutableUser loads a user that admin actions may change.
func (s *UserService) hashPassword(plaintext string) (string, error) {
	hashed, err := s.hasher.Hash(plaintext)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password must be at most %d bytes", ErrBadRequest, maxPasswordBytes)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hashed, nil
}

func (s *UserService) mutableUser(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, userLookupError(err)
	}
	if isBootstrapAdmin(user) {
		return types.User{}, fmt.Errorf("%w: cannot modify default admin user", ErrForbidden)
	}
	return user, nil
}

func isBootstrapAdmin(user types.User) bool {
	return strings.EqualFold(user.Username, BootstrapAdminUsername)
}

func userLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: user not found", ErrNotFound)
	}
	return err
}

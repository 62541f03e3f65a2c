package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrPasswordRequired = errors.New("password cannot be empty")
	ErrInvalidRole      = errors.New("invalid user type")
)

// PasswordHasher turns a plaintext password into a salted one-way hash.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
}

type Service interface {
	CreateUser(ctx context.Context, user *User, password string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	ReplaceUser(ctx context.Context, login string, user *User, password string) (*User, error)
	UpdateUser(ctx context.Context, login string, patch Patch) (*User, error)
	DeleteUser(ctx context.Context, login string) error
	ListUsers(ctx context.Context, filter Filter) ([]User, error)
}

type service struct {
	repo   Repository
	hasher PasswordHasher
}

func NewService(repo Repository, hasher PasswordHasher) Service {
	return &service{repo: repo, hasher: hasher}
}

func (s *service) CreateUser(ctx context.Context, user *User, password string) (*User, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if !user.Type.Valid() {
		return nil, ErrInvalidRole
	}

	if err := ensureLoginFree(ctx, s.repo, user.Login); err != nil {
		return nil, s.fail("create", user.Login, err)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to generate hash password")
		return nil, fmt.Errorf("internal error hashing password: %w", err)
	}

	user.ID = uuid.Nil
	user.PasswordHash = hash

	createdID, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrLoginExists) {
			// Another request took the login between the pre-check and the insert.
			log.Warn().Str("login", user.Login).Msg("service: login taken concurrently")
		}
		return nil, s.fail("create", user.Login, err)
	}

	user.ID = createdID
	log.Info().Stringer("user_id", user.ID).Str("login", user.Login).Msg("service: user created")

	return user, nil
}

func (s *service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}

		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to get user by id in repository")
		return nil, fmt.Errorf("failed to get user by id '%s': %w", id, err)
	}

	return user, nil
}

func (s *service) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	user, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		return nil, s.fail("get", login, err)
	}

	return user, nil
}

// ReplaceUser overwrites every mutable field of the user stored under login,
// including the password, which is therefore mandatory.
func (s *service) ReplaceUser(ctx context.Context, login string, input *User, password string) (*User, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if !input.Type.Valid() {
		return nil, ErrInvalidRole
	}

	// Hash before opening the transaction so no connection is held during bcrypt.
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to generate hash password")
		return nil, fmt.Errorf("failed to generate hash password: %w", err)
	}

	var replaced *User
	err = s.repo.RunInTx(ctx, func(repo Repository) error {
		current, err := repo.GetByLogin(ctx, login)
		if err != nil {
			return err
		}

		if input.Login != current.Login {
			if err := ensureLoginFree(ctx, repo, input.Login); err != nil {
				return err
			}
		}

		current.Name = input.Name
		current.Surname = input.Surname
		current.Patronymic = input.Patronymic
		current.Type = input.Type
		current.ClassName = input.ClassName
		current.Login = input.Login
		current.Subject = input.Subject
		current.PasswordHash = hash

		if err := repo.Update(ctx, current); err != nil {
			return err
		}

		replaced = current
		return nil
	})
	if err != nil {
		return nil, s.fail("replace", login, err)
	}

	log.Info().Stringer("user_id", replaced.ID).Str("login", replaced.Login).Msg("service: user replaced")

	return replaced, nil
}

// UpdateUser applies only the fields present in patch.
func (s *service) UpdateUser(ctx context.Context, login string, patch Patch) (*User, error) {
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, ErrInvalidRole
	}

	var hash string
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, ErrPasswordRequired
		}

		var err error
		hash, err = s.hasher.Hash(ctx, *patch.Password)
		if err != nil {
			log.Error().Err(err).Msg("service: failed to generate hash password")
			return nil, fmt.Errorf("failed to generate hash password: %w", err)
		}
		patch.Password = nil
	}

	var updated *User
	err := s.repo.RunInTx(ctx, func(repo Repository) error {
		current, err := repo.GetByLogin(ctx, login)
		if err != nil {
			return err
		}

		if patch.Login != nil && *patch.Login != current.Login {
			if err := ensureLoginFree(ctx, repo, *patch.Login); err != nil {
				return err
			}
			current.Login = *patch.Login
		}

		patch.Apply(current)
		if hash != "" {
			current.PasswordHash = hash
		}

		if err := repo.Update(ctx, current); err != nil {
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, s.fail("update", login, err)
	}

	log.Info().Stringer("user_id", updated.ID).Str("login", updated.Login).Msg("service: user updated")

	return updated, nil
}

func (s *service) DeleteUser(ctx context.Context, login string) error {
	err := s.repo.RunInTx(ctx, func(repo Repository) error {
		current, err := repo.GetByLogin(ctx, login)
		if err != nil {
			return err
		}

		return repo.Delete(ctx, current.ID)
	})
	if err != nil {
		return s.fail("delete", login, err)
	}

	log.Info().Str("login", login).Msg("service: user deleted")

	return nil
}

func (s *service) ListUsers(ctx context.Context, filter Filter) ([]User, error) {
	users, err := s.repo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list users in repository")
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// fail passes domain errors through unchanged and wraps everything else.
func (s *service) fail(op, login string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrLoginExists):
		return ErrLoginExists
	}

	log.Error().Err(err).Str("login", login).Msgf("service: failed to %s user", op)
	return fmt.Errorf("failed to %s user '%s': %w", op, login, err)
}

// ensureLoginFree is the fast-path uniqueness check. It is not atomic with the
// following write; the unique constraint in storage has the final word.
func ensureLoginFree(ctx context.Context, repo Repository, login string) error {
	_, err := repo.GetByLogin(ctx, login)
	switch {
	case err == nil:
		return ErrLoginExists
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("failed to check login '%s': %w", login, err)
	}
}

package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrLoginExists = errors.New("login already exists")
)

const (
	usersTable      = "users"
	loginConstraint = "users_login_key"
)

var userColumns = []string{
	"id", "name", "surname", "patronymic", "type", "class_name",
	"login", "subject", "password_hash", "created_at", "updated_at",
}

// Repository persists school accounts.
type Repository interface {
	Create(ctx context.Context, user *User) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter Filter) ([]User, error)
	// RunInTx runs fn against a repository bound to a single transaction.
	// The transaction is committed when fn returns nil and rolled back otherwise.
	RunInTx(ctx context.Context, fn func(repo Repository) error) error
}

// DB is satisfied by both *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type postgresRepository struct {
	db DB
	// nil when the repository is already bound to a transaction
	beginner txBeginner
	builder  sq.StatementBuilderType
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{
		db:       pool,
		beginner: pool,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *postgresRepository) Create(ctx context.Context, user *User) (uuid.UUID, error) {
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate user id: %w", err)
		}
		user.ID = id
	}

	query := `
		INSERT INTO users (id, name, surname, patronymic, password_hash, type, class_name, login, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Surname,
		user.Patronymic,
		user.PasswordHash,
		string(user.Type),
		user.ClassName,
		user.Login,
		user.Subject,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isLoginViolation(err) {
			return uuid.Nil, ErrLoginExists
		}
		return uuid.Nil, fmt.Errorf("repository: failed to insert user %s: %w", user.Login, err)
	}

	return user.ID, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := "SELECT " + strings.Join(userColumns, ", ") + " FROM users WHERE id = $1"

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user by id %s: %w", id, err)
	}

	return user, nil
}

func (r *postgresRepository) GetByLogin(ctx context.Context, login string) (*User, error) {
	query := "SELECT " + strings.Join(userColumns, ", ") + " FROM users WHERE login = $1"

	user, err := scanUser(r.db.QueryRow(ctx, query, login))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user by login %q: %w", login, err)
	}

	return user, nil
}

func (r *postgresRepository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET name = $2, surname = $3, patronymic = $4, password_hash = $5, type = $6,
		    class_name = $7, login = $8, subject = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Surname,
		user.Patronymic,
		user.PasswordHash,
		string(user.Type),
		user.ClassName,
		user.Login,
		user.Subject,
	).Scan(&user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isLoginViolation(err) {
			return ErrLoginExists
		}
		return fmt.Errorf("repository: failed to update user %s: %w", user.ID, err)
	}

	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete user %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *postgresRepository) List(ctx context.Context, filter Filter) ([]User, error) {
	where := sq.Eq{}
	addEq := func(column string, value *string) {
		if value != nil {
			where[column] = *value
		}
	}
	addEq("name", filter.Name)
	addEq("surname", filter.Surname)
	addEq("patronymic", filter.Patronymic)
	addEq("class_name", filter.ClassName)
	addEq("login", filter.Login)
	addEq("subject", filter.Subject)
	if filter.Type != nil {
		where["type"] = string(*filter.Type)
	}

	builder := r.builder.Select(userColumns...).From(usersTable).OrderBy("surname", "name", "login")
	if !filter.IsEmpty() {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to build user filter query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating users: %w", err)
	}

	return users, nil
}

func (r *postgresRepository) RunInTx(ctx context.Context, fn func(repo Repository) error) (err error) {
	if r.beginner == nil {
		return fn(r)
	}

	tx, err := r.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	// Rollback must still reach the server when the request context is already cancelled.
	cleanupCtx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("Panic recovered inside user transaction, rolling back")
			if rbErr := tx.Rollback(cleanupCtx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(cleanupCtx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback user transaction")
			}
			return
		}

		if commitErr := tx.Commit(ctx); commitErr != nil {
			if isLoginViolation(commitErr) {
				err = ErrLoginExists
				return
			}
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(&postgresRepository{db: tx, builder: r.builder})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user User
		role string
	)
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Surname,
		&user.Patronymic,
		&role,
		&user.ClassName,
		&user.Login,
		&user.Subject,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Type = Role(role)

	return &user, nil
}

// The unique index on login is the authoritative uniqueness check; the service
// only pre-checks to give a fast answer.
func isLoginViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == loginConstraint
}

//go:build integration

package user_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/vasiliy-maslov/school-user-service/internal/db"
	"github.com/vasiliy-maslov/school-user-service/internal/user"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runWithDatabase(m))
}

func runWithDatabase(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Если TEST_DATABASE_URL задан, используем внешнюю БД, иначе поднимаем контейнер.
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		pg, err := postgres.RunContainer(ctx,
			tc.WithImage("postgres:16-alpine"),
			postgres.WithDatabase("school"),
			postgres.WithUsername("school"),
			postgres.WithPassword("school"),
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to start postgres container")
			return 1
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = pg.Terminate(stopCtx)
		}()

		connStr, err = pg.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			log.Error().Err(err).Msg("Failed to get container connection string")
			return 1
		}
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse test database url")
		return 1
	}
	poolConfig.MaxConns = 5

	testDB, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to test database")
		return 1
	}
	defer testDB.Close()

	if err := waitReady(ctx, testDB); err != nil {
		log.Error().Err(err).Msg("Failed to ping test database")
		return 1
	}

	if err := db.Migrate(testDB); err != nil {
		log.Error().Err(err).Msg("Failed to migrate test database")
		return 1
	}

	return m.Run()
}

func waitReady(ctx context.Context, pool *pgxpool.Pool) error {
	dead := time.Now().Add(20 * time.Second)
	for time.Now().Before(dead) {
		if err := pool.Ping(ctx); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("db not ready")
}

func truncateUsersTable(tb testing.TB, pool *pgxpool.Pool) {
	tb.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE TABLE users")
	require.NoError(tb, err, "failed to truncate users table")
}

func newStudent(login string) *user.User {
	return &user.User{
		Name:         "Ivan",
		Surname:      "Ivanov",
		Patronymic:   strPtr("Ivanovich"),
		Type:         user.RoleStudent,
		ClassName:    strPtr("9A"),
		Login:        login,
		PasswordHash: "hashed_password",
	}
}

func TestUserRepository_Create(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	testUser := newStudent("ivanov_i")

	createdID, err := repo.Create(context.Background(), testUser)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, createdID)
	require.Equal(t, testUser.ID, createdID)
	require.False(t, testUser.CreatedAt.IsZero())
}

func TestUserRepository_Create_LoginExists(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	_, err := repo.Create(context.Background(), newStudent("ivanov_i"))
	require.NoError(t, err)

	createdID, err := repo.Create(context.Background(), newStudent("ivanov_i"))
	require.ErrorIs(t, err, user.ErrLoginExists)
	require.Equal(t, uuid.Nil, createdID)
}

func TestUserRepository_GetByLoginAndID(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	created := newStudent("ivanov_i")
	_, err := repo.Create(context.Background(), created)
	require.NoError(t, err)

	byLogin, err := repo.GetByLogin(context.Background(), "ivanov_i")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byLogin.ID)
	assert.Equal(t, user.RoleStudent, byLogin.Type)
	require.NotNil(t, byLogin.ClassName)
	assert.Equal(t, "9A", *byLogin.ClassName)
	assert.Nil(t, byLogin.Subject)
	assert.Equal(t, "hashed_password", byLogin.PasswordHash)

	byID, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ivanov_i", byID.Login)

	_, err = repo.GetByLogin(context.Background(), "ghost")
	require.ErrorIs(t, err, user.ErrNotFound)

	_, err = repo.GetByID(context.Background(), uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, user.ErrNotFound)
}

func TestUserRepository_Update(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	u := newStudent("ivanov_i")
	_, err := repo.Create(context.Background(), u)
	require.NoError(t, err)
	createdAt := u.CreatedAt

	u.Name = "Pyotr"
	u.Patronymic = nil
	require.NoError(t, repo.Update(context.Background(), u))

	got, err := repo.GetByLogin(context.Background(), "ivanov_i")
	require.NoError(t, err)
	assert.Equal(t, "Pyotr", got.Name)
	assert.Nil(t, got.Patronymic)
	assert.True(t, got.CreatedAt.Equal(createdAt))
	assert.False(t, got.UpdatedAt.Before(createdAt))

	missing := newStudent("ghost")
	missing.ID = uuid.Must(uuid.NewV4())
	require.ErrorIs(t, repo.Update(context.Background(), missing), user.ErrNotFound)
}

func TestUserRepository_Update_LoginExists(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	_, err := repo.Create(context.Background(), newStudent("ivanov_i"))
	require.NoError(t, err)
	second := newStudent("petrov_p")
	_, err = repo.Create(context.Background(), second)
	require.NoError(t, err)

	second.Login = "ivanov_i"
	require.ErrorIs(t, repo.Update(context.Background(), second), user.ErrLoginExists)
}

func TestUserRepository_Delete(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	u := newStudent("ivanov_i")
	_, err := repo.Create(context.Background(), u)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(context.Background(), u.ID))
	require.ErrorIs(t, repo.Delete(context.Background(), u.ID), user.ErrNotFound)

	_, err = repo.GetByLogin(context.Background(), "ivanov_i")
	require.ErrorIs(t, err, user.ErrNotFound)
}

func TestUserRepository_List(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	ctx := context.Background()
	_, err := repo.Create(ctx, newStudent("ivanov_i"))
	require.NoError(t, err)

	other := newStudent("petrov_p")
	other.Surname = "Petrov"
	other.ClassName = strPtr("10B")
	_, err = repo.Create(ctx, other)
	require.NoError(t, err)

	teacher := &user.User{
		Name: "Anna", Surname: "Smirnova", Type: user.RoleTeacher,
		Login: "smirnova_a", Subject: strPtr("Math"), PasswordHash: "hashed_password",
	}
	_, err = repo.Create(ctx, teacher)
	require.NoError(t, err)

	all, err := repo.List(ctx, user.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ivanov_i", all[0].Login)

	role := user.RoleStudent
	students, err := repo.List(ctx, user.Filter{Type: &role})
	require.NoError(t, err)
	require.Len(t, students, 2)

	ninthGrade, err := repo.List(ctx, user.Filter{Type: &role, ClassName: strPtr("9A")})
	require.NoError(t, err)
	require.Len(t, ninthGrade, 1)
	assert.Equal(t, "ivanov_i", ninthGrade[0].Login)

	none, err := repo.List(ctx, user.Filter{Subject: strPtr("History")})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestUserRepository_RunInTx_Rollback(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	ctx := context.Background()
	u := newStudent("ivanov_i")
	_, err := repo.Create(ctx, u)
	require.NoError(t, err)

	errAbort := errors.New("abort")
	err = repo.RunInTx(ctx, func(txRepo user.Repository) error {
		u.Name = "Pyotr"
		if err := txRepo.Update(ctx, u); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := repo.GetByLogin(ctx, "ivanov_i")
	require.NoError(t, err)
	assert.Equal(t, "Ivan", got.Name)
}

func TestUserRepository_RunInTx_Commit(t *testing.T) {
	repo := user.NewRepository(testDB)
	t.Cleanup(func() {
		truncateUsersTable(t, testDB)
	})

	ctx := context.Background()
	u := newStudent("ivanov_i")
	_, err := repo.Create(ctx, u)
	require.NoError(t, err)

	err = repo.RunInTx(ctx, func(txRepo user.Repository) error {
		current, err := txRepo.GetByLogin(ctx, "ivanov_i")
		if err != nil {
			return err
		}
		return txRepo.Delete(ctx, current.ID)
	})
	require.NoError(t, err)

	_, err = repo.GetByLogin(ctx, "ivanov_i")
	require.ErrorIs(t, err, user.ErrNotFound)
}

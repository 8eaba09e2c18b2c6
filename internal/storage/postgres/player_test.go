package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/akeka/terraweb/internal/storage/postgres"
	"github.com/akeka/terraweb/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1e13)
}

func TestHashPassword(t *testing.T) {
	hash, err := postgres.HashPassword("secret123")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "secret123", hash)
}

func TestCheckPassword_Correct(t *testing.T) {
	hash, err := postgres.HashPassword("mypassword")
	assert.NoError(t, err)
	assert.True(t, postgres.CheckPassword("mypassword", hash))
}

func TestCheckPassword_Wrong(t *testing.T) {
	hash, err := postgres.HashPassword("mypassword")
	assert.NoError(t, err)
	assert.False(t, postgres.CheckPassword("wrongpassword", hash))
}

// Property: HashPassword always produces a hash that CheckPassword verifies.
func TestPropertyHashAndCheck(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// bcrypt has a max input length of 72 bytes
		password := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "password")
		hash, err := postgres.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if !postgres.CheckPassword(password, hash) {
			t.Fatalf("CheckPassword failed for password %q", password)
		}
	})
}

func TestPosition_Defaults(t *testing.T) {
	p := postgres.Player{}
	x, y := p.Position(100, -50)
	assert.Equal(t, int32(100), x)
	assert.Equal(t, int32(-50), y)

	px, py := int32(7), int32(-3)
	p.X, p.Y = &px, &py
	x, y = p.Position(100, -50)
	assert.Equal(t, int32(7), x)
	assert.Equal(t, int32(-3), y)
}

func TestPlayerRepository_Create(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	name := uniqueName("alice")
	created, err := repo.Create(ctx, name, "password123")
	require.NoError(t, err)

	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, name, created.Name)
	assert.NotEmpty(t, created.PasswordHash)
	assert.Nil(t, created.X)
	assert.Nil(t, created.Y)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestPlayerRepository_Create_Duplicate(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	name := uniqueName("bob")
	_, err := repo.Create(ctx, name, "password123")
	require.NoError(t, err)

	_, err = repo.Create(ctx, name, "otherpassword")
	assert.ErrorIs(t, err, postgres.ErrPlayerExists)
}

func TestPlayerRepository_Create_InvalidName(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "", "password123")
	assert.ErrorIs(t, err, postgres.ErrNameInvalid)

	_, err = repo.Create(ctx, "this_name_is_far_too_long", "password123")
	assert.ErrorIs(t, err, postgres.ErrNameInvalid)

	// Multi-byte names are measured in bytes, not runes.
	_, err = repo.Create(ctx, "ЙЙЙЙЙЙЙЙЙЙЙ", "password123")
	assert.ErrorIs(t, err, postgres.ErrNameInvalid)
}

func TestPlayerRepository_Authenticate(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	name := uniqueName("carol")
	created, err := repo.Create(ctx, name, "password123")
	require.NoError(t, err)

	got, err := repo.Authenticate(ctx, name, "password123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = repo.Authenticate(ctx, name, "wrongpassword")
	assert.ErrorIs(t, err, postgres.ErrInvalidCredentials)

	_, err = repo.Authenticate(ctx, uniqueName("nobody"), "password123")
	assert.ErrorIs(t, err, postgres.ErrPlayerNotFound)
}

func TestPlayerRepository_SavePosition(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, uniqueName("dave"), "password123")
	require.NoError(t, err)

	require.NoError(t, repo.SavePosition(ctx, created.ID, 1024, -768))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.X)
	require.NotNil(t, got.Y)
	assert.Equal(t, int32(1024), *got.X)
	assert.Equal(t, int32(-768), *got.Y)

	x, y := got.Position(0, 0)
	assert.Equal(t, int32(1024), x)
	assert.Equal(t, int32(-768), y)
}

func TestPlayerRepository_SavePosition_Unknown(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	err := repo.SavePosition(context.Background(), 999999, 0, 0)
	assert.ErrorIs(t, err, postgres.ErrPlayerNotFound)
}

func TestPlayerRepository_GetByID_Unknown(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	_, err := repo.GetByID(context.Background(), 999999)
	assert.ErrorIs(t, err, postgres.ErrPlayerNotFound)
}

func TestPlayerRepository_GetByName(t *testing.T) {
	repo := postgres.NewPlayerRepository(testutil.NewPool(t))
	ctx := context.Background()

	name := uniqueName("erin")
	created, err := repo.Create(ctx, name, "password123")
	require.NoError(t, err)

	got, err := repo.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, name, got.Name)
}

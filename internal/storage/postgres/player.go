package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/akeka/terraweb/internal/protocol"
)

// Player represents a registered player in the database. X and Y are nil
// until the player's position has been saved at least once.
type Player struct {
	ID           int64
	Name         string
	PasswordHash string
	X            *int32
	Y            *int32
	CreatedAt    time.Time
}

// Position returns the player's saved position, falling back to the given
// spawn point when no position has been saved yet.
func (p Player) Position(spawnX, spawnY int32) (int32, int32) {
	if p.X == nil || p.Y == nil {
		return spawnX, spawnY
	}
	return *p.X, *p.Y
}

// ErrPlayerNotFound is returned when a player lookup yields no results.
var ErrPlayerNotFound = errors.New("player not found")

// ErrPlayerExists is returned when attempting to create a duplicate name.
var ErrPlayerExists = errors.New("player already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrNameInvalid is returned when a player name is empty or does not fit
// the wire format's fixed-width name field.
var ErrNameInvalid = errors.New("player name must be 1-20 bytes")

// PlayerRepository provides player persistence operations.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Create inserts a new player with a bcrypt-hashed password.
//
// Precondition: name must encode to 1-20 bytes; password must be non-empty.
// Postcondition: Returns the created Player with ID and CreatedAt set,
// or ErrPlayerExists if the name is taken.
func (r *PlayerRepository) Create(ctx context.Context, name, password string) (Player, error) {
	if len(name) == 0 || len(name) > protocol.NameFieldLen {
		return Player{}, ErrNameInvalid
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Player{}, fmt.Errorf("hashing password: %w", err)
	}

	var p Player
	err = r.db.QueryRow(ctx,
		`INSERT INTO players (name, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, name, password_hash, x, y, created_at`,
		name, hash,
	).Scan(&p.ID, &p.Name, &p.PasswordHash, &p.X, &p.Y, &p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Player{}, ErrPlayerExists
		}
		return Player{}, fmt.Errorf("inserting player: %w", err)
	}

	return p, nil
}

// Authenticate verifies credentials and returns the matching player.
//
// Precondition: name and password must be non-empty.
// Postcondition: Returns the Player if credentials are valid,
// ErrPlayerNotFound if the name doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *PlayerRepository) Authenticate(ctx context.Context, name, password string) (Player, error) {
	p, err := r.getBy(ctx, `name = $1`, name)
	if err != nil {
		return Player{}, err
	}

	if !CheckPassword(password, p.PasswordHash) {
		return Player{}, ErrInvalidCredentials
	}

	return p, nil
}

// GetByID retrieves a player by id.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (Player, error) {
	return r.getBy(ctx, `id = $1`, id)
}

// GetByName retrieves a player by name.
//
// Precondition: name must be non-empty.
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByName(ctx context.Context, name string) (Player, error) {
	return r.getBy(ctx, `name = $1`, name)
}

func (r *PlayerRepository) getBy(ctx context.Context, where string, arg any) (Player, error) {
	var p Player
	err := r.db.QueryRow(ctx,
		`SELECT id, name, password_hash, x, y, created_at
		 FROM players WHERE `+where,
		arg,
	).Scan(&p.ID, &p.Name, &p.PasswordHash, &p.X, &p.Y, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrPlayerNotFound
		}
		return Player{}, fmt.Errorf("querying player: %w", err)
	}
	return p, nil
}

// SavePosition stores the player's last known position.
//
// Postcondition: The player's position is updated, or ErrPlayerNotFound
// is returned when no row matches.
func (r *PlayerRepository) SavePosition(ctx context.Context, id int64, x, y int32) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE players SET x = $1, y = $2 WHERE id = $3`,
		x, y, id,
	)
	if err != nil {
		return fmt.Errorf("updating position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

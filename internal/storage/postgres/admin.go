package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Admin represents an operator account for the admin HTTP surface.
type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ErrAdminNotFound is returned when an admin lookup yields no results.
var ErrAdminNotFound = errors.New("admin not found")

// ErrAdminExists is returned when attempting to create a duplicate username.
var ErrAdminExists = errors.New("admin already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminRepository provides admin account persistence operations.
type AdminRepository struct {
	db *pgxpool.Pool
}

// NewAdminRepository creates an AdminRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAdminRepository(db *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create inserts a new admin with a bcrypt-hashed password.
//
// Precondition: username must be non-empty; password must be non-empty.
// Postcondition: Returns the created Admin with ID and CreatedAt set,
// or ErrAdminExists if the username is taken.
func (r *AdminRepository) Create(ctx context.Context, username, password string) (Admin, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Admin{}, fmt.Errorf("hashing password: %w", err)
	}

	var adm Admin
	err = r.db.QueryRow(ctx,
		`INSERT INTO admins (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, username, password_hash, created_at`,
		username, hash,
	).Scan(&adm.ID, &adm.Username, &adm.PasswordHash, &adm.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Admin{}, ErrAdminExists
		}
		return Admin{}, fmt.Errorf("inserting admin: %w", err)
	}

	return adm, nil
}

// Authenticate verifies credentials and returns the matching admin.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the Admin if credentials are valid,
// ErrAdminNotFound if the username doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *AdminRepository) Authenticate(ctx context.Context, username, password string) (Admin, error) {
	adm, err := r.GetByUsername(ctx, username)
	if err != nil {
		return Admin{}, err
	}
	if !CheckPassword(password, adm.PasswordHash) {
		return Admin{}, ErrInvalidCredentials
	}
	return adm, nil
}

// GetByUsername retrieves an admin by username.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the Admin or ErrAdminNotFound.
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (Admin, error) {
	var adm Admin
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM admins WHERE username = $1`,
		username,
	).Scan(&adm.ID, &adm.Username, &adm.PasswordHash, &adm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admin{}, ErrAdminNotFound
		}
		return Admin{}, fmt.Errorf("querying admin: %w", err)
	}
	return adm, nil
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

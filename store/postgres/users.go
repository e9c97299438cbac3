package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/MrEthical07/stackauth"
)

const userColumns = `id::text, email, name, password_hash, role, verified, active,
		       reputation, avatar_url, created_at, last_active_at`

// UserDirectory implements stackauth.UserDirectory. Lookups only return
// active accounts.
type UserDirectory struct {
	pool querier
	now  func() time.Time
}

var _ stackauth.UserDirectory = (*UserDirectory)(nil)

// NewUserDirectory creates a directory over pool.
func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return newUserDirectory(pool)
}

func newUserDirectory(pool querier) *UserDirectory {
	return &UserDirectory{pool: pool, now: time.Now}
}

// WithClock overrides the clock used for created_at.
func (d *UserDirectory) WithClock(now func() time.Time) *UserDirectory {
	d.now = now
	return d
}

// FindByEmail looks up an active account, ignoring email case.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (stackauth.User, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1) AND active
	`, strings.TrimSpace(email))

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return stackauth.User{}, oops.Code("USER_NOT_FOUND").Wrap(stackauth.ErrUserNotFound)
	}
	if err != nil {
		return stackauth.User{}, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// FindByID looks up an active account. Ids that are not UUIDs cannot exist.
func (d *UserDirectory) FindByID(ctx context.Context, id string) (stackauth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return stackauth.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(stackauth.ErrUserNotFound)
	}

	row := d.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND active
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return stackauth.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(stackauth.ErrUserNotFound)
	}
	if err != nil {
		return stackauth.User{}, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id).
			Wrap(err)
	}
	return user, nil
}

// Create inserts a new active account. A unique violation on the email
// index is reported as stackauth.ErrDuplicateEmail.
func (d *UserDirectory) Create(ctx context.Context, profile stackauth.NewUser) (stackauth.User, error) {
	role := profile.Role
	if role == "" {
		role = stackauth.RoleUser
	}
	user := stackauth.User{
		ID:           uuid.NewString(),
		Email:        profile.Email,
		Name:         profile.Name,
		PasswordHash: profile.PasswordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    d.now().UTC().Truncate(time.Microsecond),
	}

	_, err := d.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, verified, active, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, TRUE, $6)
	`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		string(user.Role),
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return stackauth.User{}, oops.Code("USER_EMAIL_TAKEN").Wrap(stackauth.ErrDuplicateEmail)
	}
	if err != nil {
		return stackauth.User{}, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return user, nil
}

// UpdateLastActive records the last authenticated activity.
func (d *UserDirectory) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	return d.update(ctx, "USER_TOUCH_FAILED", id,
		`UPDATE users SET last_active_at = $2 WHERE id = $1 AND active`, at.UTC())
}

// SetVerified marks the account's email as verified.
func (d *UserDirectory) SetVerified(ctx context.Context, id string) error {
	return d.update(ctx, "USER_VERIFY_FAILED", id,
		`UPDATE users SET verified = TRUE WHERE id = $1 AND active`)
}

// SetPasswordHash replaces the stored credential.
func (d *UserDirectory) SetPasswordHash(ctx context.Context, id string, hash string) error {
	return d.update(ctx, "USER_PASSWORD_UPDATE_FAILED", id,
		`UPDATE users SET password_hash = $2 WHERE id = $1 AND active`, hash)
}

func (d *UserDirectory) update(ctx context.Context, code, id, query string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(stackauth.ErrUserNotFound)
	}

	result, err := d.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return oops.Code(code).With("id", id).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(stackauth.ErrUserNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (stackauth.User, error) {
	var (
		user       stackauth.User
		role       string
		lastActive *time.Time
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&role,
		&user.Verified,
		&user.Active,
		&user.Reputation,
		&user.AvatarURL,
		&user.CreatedAt,
		&lastActive,
	)
	if err != nil {
		return stackauth.User{}, err
	}
	user.Role = stackauth.Role(role)
	if lastActive != nil {
		user.LastActiveAt = *lastActive
	}
	return user, nil
}

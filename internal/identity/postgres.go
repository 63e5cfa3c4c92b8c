package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const pgUniqueViolation = "23505"

// PostgresStore persists user records so accounts survive restarts.
// Lockout, rate-limit, and token-registry state stay in process regardless
// of which store backs the accounts.
type PostgresStore struct {
	db         *sql.DB
	bcryptCost int
}

func NewPostgresStore(db *sql.DB, bcryptCost int) *PostgresStore {
	if bcryptCost <= 0 {
		bcryptCost = defaultBcryptCost
	}
	return &PostgresStore{db: db, bcryptCost: bcryptCost}
}

func (s *PostgresStore) Create(ctx context.Context, input NewUser) (User, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return User{}, fmt.Errorf("email and password are required")
	}

	role := input.Role
	if role == "" {
		role = RoleClient
	}
	pkg := input.Package
	if pkg == "" {
		pkg = PackageGrowth
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portal_users (id, email, name, company_name, role, package, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
	`, id.String(), email, input.Name, input.CompanyName, string(role), string(pkg), string(hash), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return User{
		ID:          id.String(),
		Email:       email,
		Name:        input.Name,
		CompanyName: input.CompanyName,
		Role:        role,
		Package:     pkg,
		Permissions: PermissionsFor(role),
		Active:      true,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, email string) (User, bool, error) {
	user, _, err := s.scanUser(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *PostgresStore) VerifyCredentials(ctx context.Context, email, password string) (User, bool, error) {
	key := NormalizeEmail(email)

	user, hash, err := s.scanUser(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	if !user.Active {
		return User{}, false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return User{}, false, nil
	}

	lastLogin := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE portal_users SET last_login = $2 WHERE email = $1
	`, key, lastLogin); err != nil {
		return User{}, false, fmt.Errorf("update last login: %w", err)
	}
	user.LastLogin = &lastLogin

	return user, true, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, email string, active bool) (User, error) {
	key := NormalizeEmail(email)

	res, err := s.db.ExecContext(ctx, `
		UPDATE portal_users SET active = $2 WHERE email = $1
	`, key, active)
	if err != nil {
		return User{}, fmt.Errorf("update user active flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("active flag rows affected: %w", err)
	}
	if affected == 0 {
		return User{}, ErrUserNotFound
	}

	user, _, err := s.scanUser(ctx, key)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	adminEmail = NormalizeEmail(adminEmail)
	if adminEmail == "" && adminPassword == "" {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portal_users (id, email, name, role, package, password_hash, active, created_at)
		VALUES ($1, $2, 'Portal Admin', $3, $4, $5, TRUE, $6)
		ON CONFLICT (email)
		DO UPDATE SET
			role = EXCLUDED.role,
			package = EXCLUDED.package,
			password_hash = EXCLUDED.password_hash,
			active = TRUE
	`, id.String(), adminEmail, string(RoleAdmin), string(PackageAdmin), string(hash), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

func (s *PostgresStore) scanUser(ctx context.Context, email string) (User, string, error) {
	var (
		user      User
		hash      string
		role      string
		pkg       string
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, company_name, role, package, password_hash, active, created_at, last_login
		FROM portal_users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.CompanyName, &role, &pkg, &hash, &user.Active, &user.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, "", err
		}
		return User{}, "", fmt.Errorf("query user by email: %w", err)
	}

	user.Role = Role(role)
	user.Package = Package(pkg)
	user.Permissions = PermissionsFor(user.Role)
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLogin = &value
	}

	return user, hash, nil
}

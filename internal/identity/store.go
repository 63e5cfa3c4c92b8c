package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultBcryptCost = 12

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
)

// Store resolves and mutates user records. Credential mismatch is signalled
// by the boolean result, never by an error.
type Store interface {
	Create(ctx context.Context, input NewUser) (User, error)
	Lookup(ctx context.Context, email string) (User, bool, error)
	VerifyCredentials(ctx context.Context, email, password string) (User, bool, error)
	SetActive(ctx context.Context, email string, active bool) (User, error)
	Bootstrap(ctx context.Context, adminEmail, adminPassword string) error
}

type memoryRecord struct {
	user         User
	passwordHash string
}

// MemoryStore keeps user records in process memory. This is the default
// deployment mode: accounts are seeded at startup and managed through the
// admin API.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]*memoryRecord
	bcryptCost int
	now        func() time.Time
}

func NewMemoryStore(bcryptCost int) *MemoryStore {
	if bcryptCost <= 0 {
		bcryptCost = defaultBcryptCost
	}
	return &MemoryStore{
		users:      make(map[string]*memoryRecord),
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, input NewUser) (User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[email]; exists {
		return User{}, ErrDuplicateEmail
	}

	user := User{
		ID:          id.String(),
		Email:       email,
		Name:        input.Name,
		CompanyName: input.CompanyName,
		Role:        role,
		Package:     pkg,
		Permissions: PermissionsFor(role),
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	s.users[email] = &memoryRecord{user: user, passwordHash: string(hash)}

	return user, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, email string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return User{}, false, nil
	}
	return record.user, true, nil
}

func (s *MemoryStore) VerifyCredentials(ctx context.Context, email, password string) (User, bool, error) {
	key := NormalizeEmail(email)

	s.mu.Lock()
	record, ok := s.users[key]
	if !ok || !record.user.Active {
		s.mu.Unlock()
		return User{}, false, nil
	}
	hash := record.passwordHash
	s.mu.Unlock()

	// bcrypt comparison happens outside the lock; it is deliberately slow.
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return User{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok = s.users[key]
	if !ok || !record.user.Active {
		return User{}, false, nil
	}
	lastLogin := s.now().UTC()
	record.user.LastLogin = &lastLogin

	return record.user, true, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, email string, active bool) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	record.user.Active = active

	return record.user, nil
}

// Bootstrap seeds the default admin account. An existing record for the
// same email is replaced so a changed ADMIN_PASSWORD takes effect on
// restart.
func (s *MemoryStore) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.users[adminEmail]; ok {
		record.passwordHash = string(hash)
		record.user.Role = RoleAdmin
		record.user.Package = PackageAdmin
		record.user.Permissions = PermissionsFor(RoleAdmin)
		record.user.Active = true
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	s.users[adminEmail] = &memoryRecord{
		user: User{
			ID:          id.String(),
			Email:       adminEmail,
			Name:        "Portal Admin",
			Role:        RoleAdmin,
			Package:     PackageAdmin,
			Permissions: PermissionsFor(RoleAdmin),
			Active:      true,
			CreatedAt:   s.now().UTC(),
		},
		passwordHash: string(hash),
	}

	return nil
}

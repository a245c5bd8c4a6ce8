// Package identity holds user accounts: registration, credential checks and
// username search.
package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Store is the account collaborator the gateway and HTTP API depend on.
type Store interface {
	Register(ctx context.Context, username, password string) error
	VerifyCredentials(ctx context.Context, username, password string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	// SearchUsers matches substring case-insensitively; an empty substring
	// matches every user. Results are sorted ascending.
	SearchUsers(ctx context.Context, substring string) ([]string, error)
}

var (
	ErrUsernameTaken   = errorString("username_taken")
	ErrMissingFields   = errorString("missing_fields")
	ErrUsernameInvalid = errorString("username_invalid")
)

type errorString string

func (e errorString) Error() string { return string(e) }

const maxUsernameLen = 32

// ValidateCredentials applies the checks every store shares before touching
// storage.
func ValidateCredentials(username, password string) error {
	if username == "" || password == "" {
		return ErrMissingFields
	}
	if len(username) > maxUsernameLen || strings.ContainsAny(username, " \t\r\n") {
		return ErrUsernameInvalid
	}
	return nil
}

// HashPassword is shared by the stores so hashes are interchangeable.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// MemoryStore keeps accounts in process memory. Useful for local runs and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]string // username -> bcrypt hash
	cost  int
}

// NewMemoryStore returns an empty store. cost is the bcrypt cost; 0 uses
// bcrypt.DefaultCost.
func NewMemoryStore(cost int) *MemoryStore {
	return &MemoryStore{users: make(map[string]string), cost: cost}
}

func (s *MemoryStore) Register(_ context.Context, username, password string) error {
	if err := ValidateCredentials(username, password); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUsernameTaken
	}
	s.users[username] = hash
	return nil
}

func (s *MemoryStore) VerifyCredentials(_ context.Context, username, password string) (bool, error) {
	s.mu.RLock()
	hash, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return checkPassword(hash, password), nil
}

func (s *MemoryStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, substring string) ([]string, error) {
	needle := strings.ToLower(substring)

	s.mu.RLock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		if strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
		}
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

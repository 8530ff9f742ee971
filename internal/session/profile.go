package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Profile is the locally stored login identity. A profile with no
// password hash has never completed setup and counts as unauthenticated.
type Profile struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// SetPassword stores a bcrypt hash of the plain password
func (p *Profile) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	p.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether the plain password matches the stored hash
func (p *Profile) CheckPassword(plain string) bool {
	if p.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(plain)) == nil
}

// IsAuthenticated reports whether credentials have been established
func (p *Profile) IsAuthenticated() bool {
	return p.Username != "" && p.PasswordHash != ""
}

// ProfileStore persists the login profile as a JSON file. A missing or
// corrupt file resolves to the default profile; a storage fault must
// never block startup.
type ProfileStore struct {
	path         string
	defaultEmail string
	logger       *slog.Logger
	mu           sync.Mutex
}

// NewProfileStore creates a store backed by the given file path.
// defaultEmail is the placeholder address of a never-customized install.
func NewProfileStore(path, defaultEmail string, logger *slog.Logger) *ProfileStore {
	return &ProfileStore{
		path:         path,
		defaultEmail: defaultEmail,
		logger:       logger.With(slog.String("component", "profile_store")),
	}
}

// DefaultEmail returns the placeholder address of a fresh install
func (s *ProfileStore) DefaultEmail() string {
	return s.defaultEmail
}

// Load reads the persisted profile, falling back to the default
func (s *ProfileStore) Load() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	fallback := Profile{Username: "owner", Email: s.defaultEmail}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read profile, using defaults",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return fallback
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		s.logger.Warn("corrupt profile, using defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return fallback
	}
	if profile.Email == "" {
		profile.Email = s.defaultEmail
	}
	if profile.Username == "" {
		profile.Username = fallback.Username
	}

	return profile
}

// Save persists the profile atomically with restricted permissions
func (s *ProfileStore) Save(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace profile: %w", err)
	}

	return nil
}

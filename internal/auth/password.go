package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/cyberguard/internal/model"
)

const bcryptCost = 12

// Hash returns a bcrypt hash of the password.
func Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(b), err
}

// Verify reports whether password matches the stored bcrypt hash.
func Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewID generates a random hex ID.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateToken returns a 32-byte cryptographically random hex string.
func GenerateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// OfficerCreator is the minimal interface needed for seeding the first
// officer.
type OfficerCreator interface {
	CountAll(ctx context.Context) (int, error)
	Create(ctx context.Context, id, email, name, passwordHash string, role model.Role) error
}

// SeedFirstOfficer creates a supervisor account when the officers table is
// empty and credentials are configured. It reports whether an account was
// created.
func SeedFirstOfficer(ctx context.Context, officers OfficerCreator, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}

	count, err := officers.CountAll(ctx)
	if err != nil {
		return false, fmt.Errorf("seed: count officers: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := Hash(password)
	if err != nil {
		return false, fmt.Errorf("seed: hash password: %w", err)
	}

	name, _, _ := strings.Cut(email, "@")
	if err := officers.Create(ctx, NewID(), email, name, hash, model.RoleSupervisor); err != nil {
		return false, fmt.Errorf("seed: create officer: %w", err)
	}
	slog.Info("seed: created first supervisor", "email", email)
	return true, nil
}

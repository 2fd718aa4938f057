package persistence

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// SeedUser is one directory entry in a seed file.
type SeedUser struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Email      string          `yaml:"email"`
	Role       domain.UserRole `yaml:"role"`
	Department string          `yaml:"department"`
}

// LoadUserSeed reads a YAML file of the form
//
//	users:
//	  - id: a1
//	    name: Alice
//	    role: atendente
func LoadUserSeed(path string) ([]domain.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc struct {
		Users []SeedUser `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	users := make([]domain.User, 0, len(doc.Users))
	for i, su := range doc.Users {
		if su.ID == "" || su.Name == "" {
			return nil, fmt.Errorf("seed user %d: id and name required", i)
		}
		if !su.Role.Valid() {
			return nil, fmt.Errorf("seed user %s: unknown role %q", su.ID, su.Role)
		}
		u := domain.User{ID: su.ID, Name: su.Name, Email: su.Email, Role: su.Role}
		if su.Department != "" {
			dept := su.Department
			u.Department = &dept
		}
		users = append(users, u)
	}
	return users, nil
}

// SeedUsers upserts users into the directory. Queue fields are left untouched.
func SeedUsers(ctx context.Context, repo repository.UserRepository, users []domain.User, logger *zap.Logger) error {
	for i := range users {
		if err := repo.Upsert(ctx, &users[i]); err != nil {
			return fmt.Errorf("upsert user %s: %w", users[i].ID, err)
		}
	}
	logger.Info("directory seeded", zap.Int("users", len(users)))
	return nil
}

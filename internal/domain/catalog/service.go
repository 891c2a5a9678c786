package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxNameLen = 100

type Service struct {
	repos map[Kind]Repository
}

func NewService(regions, diseaseTypes Repository) *Service {
	return &Service{repos: map[Kind]Repository{
		KindRegion:      regions,
		KindDiseaseType: diseaseTypes,
	}}
}

func (s *Service) repo(kind Kind) (Repository, error) {
	r, ok := s.repos[kind]
	if !ok || r == nil {
		return nil, fmt.Errorf("unknown catalog %q", kind)
	}
	return r, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("name must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func (s *Service) Create(ctx context.Context, kind Kind, e *Entry) error {
	r, err := s.repo(kind)
	if err != nil {
		return err
	}
	if e.Name, err = normalizeName(e.Name); err != nil {
		return err
	}
	return r.Create(ctx, e)
}

func (s *Service) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Entry, error) {
	r, err := s.repo(kind)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, kind Kind, e *Entry) error {
	r, err := s.repo(kind)
	if err != nil {
		return err
	}
	if e.Name, err = normalizeName(e.Name); err != nil {
		return err
	}
	return r.Update(ctx, e)
}

func (s *Service) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	r, err := s.repo(kind)
	if err != nil {
		return err
	}
	return r.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, kind Kind, limit, offset int) ([]*Entry, int, error) {
	r, err := s.repo(kind)
	if err != nil {
		return nil, 0, err
	}
	return r.List(ctx, limit, offset)
}

// Exists reports whether id is present in the catalog. Used by the patient
// service to check references before writing.
func (s *Service) Exists(ctx context.Context, kind Kind, id uuid.UUID) (bool, error) {
	_, err := s.Get(ctx, kind, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

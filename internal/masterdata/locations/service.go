package locations

import (
	"context"
	"errors"

	"github.com/botica-pos/botica/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, errors.New("invalid location ID")
	}
	return s.repo.Get(ctx, id)
}

// ResolveByName finds a location from a free-form name, tolerant of case,
// spacing and diacritics. POS imports use it to map receipt headers onto
// location ids.
func (s *Service) ResolveByName(ctx context.Context, name string) (Location, error) {
	all, _, err := s.repo.List(ctx, shared.ListFilters{})
	if err != nil {
		return Location{}, err
	}
	return resolveByName(all, name)
}

func (s *Service) Create(ctx context.Context, location Location) (Location, error) {
	if err := s.validate(location); err != nil {
		return Location{}, err
	}
	return s.repo.Create(ctx, location)
}

func (s *Service) Update(ctx context.Context, id int64, location Location) error {
	if id <= 0 {
		return errors.New("invalid location ID")
	}
	if err := s.validate(location); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, location)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid location ID")
	}
	return s.repo.Delete(ctx, id)
}

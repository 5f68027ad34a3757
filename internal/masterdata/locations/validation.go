package locations

import (
	"errors"
	"strings"
)

func (s *Service) validate(l Location) error {
	if strings.TrimSpace(l.Code) == "" {
		return errors.New("location code is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("location name is required")
	}
	if l.Kind != KindStore && l.Kind != KindWarehouse {
		return errors.New("location kind must be STORE or WAREHOUSE")
	}
	return nil
}

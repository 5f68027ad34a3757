package products

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return errors.New("product SKU is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if strings.TrimSpace(p.Unit) == "" {
		return errors.New("product unit is required")
	}
	if p.DefaultSRP.IsNegative() {
		return errors.New("default SRP must be >= 0")
	}
	return nil
}

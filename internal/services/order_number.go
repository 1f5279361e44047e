package services

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kartline/api/internal/repositories"
)

const defaultOrderNumberPrefix = "KL"

// OrderNumberServiceDeps bundles collaborators for NewOrderNumberService.
type OrderNumberServiceDeps struct {
	Prefix string
}

type orderNumberService struct {
	prefix string
}

// NewOrderNumberService builds numbers like "KL-2026-000042". Each calendar year (UTC) has its own
// sequence, so numbering restarts at 1 in January.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberService, error) {
	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	for _, r := range prefix {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return nil, fmt.Errorf("order number service: prefix %q must be ASCII letters or digits", prefix)
		}
	}
	return &orderNumberService{prefix: prefix}, nil
}

func (s *orderNumberService) Numbering(now time.Time) repositories.OrderNumbering {
	year := now.UTC().Year()
	prefix := s.prefix
	return repositories.OrderNumbering{
		Sequence: fmt.Sprintf("orders-%04d", year),
		Format: func(value int64) string {
			return fmt.Sprintf("%s-%04d-%06d", prefix, year, value)
		},
	}
}

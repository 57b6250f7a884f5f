package dispatch

import (
	"context"
	"errors"
	"strings"

	domaindispatch "stockdispatch/internal/domain/dispatch"
)

// resolveReferences maps trimmed references to product ids. Lookup is exact and case
// sensitive; references missing from the catalog are absent from the result.
func (s *Service) resolveReferences(ctx context.Context, references []string) (map[string]uint64, error) {
	if s.catalog == nil {
		return nil, errors.New("catalog repository is required")
	}

	seen := make(map[string]struct{}, len(references))
	lookup := make([]string, 0, len(references))
	for _, raw := range references {
		reference := strings.TrimSpace(raw)
		if reference == "" {
			continue
		}
		if _, ok := seen[reference]; ok {
			continue
		}
		seen[reference] = struct{}{}
		lookup = append(lookup, reference)
	}
	if len(lookup) == 0 {
		return map[string]uint64{}, nil
	}

	ids, err := s.catalog.FindProductIDsByReference(ctx, lookup)
	if err != nil {
		return nil, &domaindispatch.CollaboratorError{
			Collaborator: "catalog",
			Message:      err.Error(),
			Err:          err,
		}
	}
	return ids, nil
}

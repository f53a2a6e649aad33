package chain

import (
	"fmt"
	"regexp"

	"github.com/Strob0t/ChainForge/internal/domain"
)

// slugPattern restricts chain slugs to lowercase identifiers usable in URLs
// and NATS subjects.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// validHandlers enumerates all valid handler kinds.
var validHandlers = map[HandlerKind]bool{
	HandlerAdaptive: true,
	HandlerTeam:     true,
}

// Validate checks that an UpsertRequest has all required fields and valid values.
func (r *UpsertRequest) Validate() error {
	if !slugPattern.MatchString(r.Slug) {
		return fmt.Errorf("slug must match %s: %w", slugPattern, domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if !validHandlers[r.Handler] {
		return fmt.Errorf("invalid handler %q: %w", r.Handler, domain.ErrValidation)
	}
	if r.Handler == HandlerTeam && len(r.Members) == 0 {
		return fmt.Errorf("team chain requires at least one member: %w", domain.ErrValidation)
	}
	if r.Handler == HandlerAdaptive && len(r.Members) > 0 {
		return fmt.Errorf("adaptive chain must not declare members: %w", domain.ErrValidation)
	}
	if r.Exec.Temperature < 0 || r.Exec.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0,2]: %w", domain.ErrValidation)
	}
	if r.Exec.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative: %w", domain.ErrValidation)
	}
	if r.Exec.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be non-negative: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.Members))
	for _, m := range r.Members {
		if m == "" {
			return fmt.Errorf("member agent id must not be empty: %w", domain.ErrValidation)
		}
		if seen[m] {
			return fmt.Errorf("duplicate member %q: %w", m, domain.ErrValidation)
		}
		seen[m] = true
	}
	return nil
}

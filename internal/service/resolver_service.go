package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// ResolverService turns an announcement's targeting rules into the concrete
// recipient set. Resolution is read-only against the external directory and
// safe to repeat: the same rules against the same directory state yield the
// same users.
type ResolverService struct {
	dir    directoryLookup
	logger *zap.Logger

	// batchEnabled prefers the directory's combined resolve endpoint; per-rule
	// resolution remains the fallback when the endpoint is unavailable.
	batchEnabled bool
}

// NewResolverService constructs the resolver.
func NewResolverService(dir directoryLookup, logger *zap.Logger) *ResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolverService{dir: dir, logger: logger, batchEnabled: true}
}

// Resolve produces the deduplicated recipient set for the announcement,
// sorted by user ID for stable downstream iteration.
func (s *ResolverService) Resolve(ctx context.Context, instituteID string, specs []models.RecipientSpec) ([]directory.User, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	if s.batchEnabled {
		users, err := s.resolveBatch(ctx, instituteID, specs)
		if err == nil {
			return users, nil
		}
		s.logger.Warn("batch recipient resolution unavailable, falling back to per-rule resolution",
			zap.String("institute_id", instituteID),
			zap.Error(err),
		)
	}

	return s.resolvePerRule(ctx, instituteID, specs)
}

func (s *ResolverService) resolveBatch(ctx context.Context, instituteID string, specs []models.RecipientSpec) ([]directory.User, error) {
	users, err := collectPages(func(page int) (directory.Page, error) {
		return s.dir.ResolveBatch(ctx, instituteID, specs, page)
	})
	if err != nil {
		return nil, err
	}
	return dedupeSorted(users), nil
}

// resolvePerRule applies the rule semantics locally: union the inclusion
// contributions (each minus its own nested exclusions), then subtract the
// global exclusion set. A single failing rule is skipped with a warning so
// one bad rule cannot block the whole announcement.
func (s *ResolverService) resolvePerRule(ctx context.Context, instituteID string, specs []models.RecipientSpec) ([]directory.User, error) {
	included := make(map[string]directory.User)
	excluded := make(map[string]struct{})
	failures := 0

	for _, spec := range specs {
		users, err := s.resolveSpec(ctx, instituteID, spec)
		if err != nil {
			failures++
			s.logger.Warn("recipient rule failed, skipping",
				zap.String("spec_id", spec.ID),
				zap.String("kind", string(spec.Kind)),
				zap.Bool("is_exclusion", spec.IsExclusion),
				zap.Error(err),
			)
			continue
		}

		if spec.IsExclusion {
			for _, u := range users {
				excluded[u.ID] = struct{}{}
			}
			continue
		}
		for _, u := range users {
			included[u.ID] = u
		}
	}

	if failures == len(specs) && len(specs) > 0 {
		return nil, fmt.Errorf("all %d recipient rules failed", failures)
	}

	result := make([]directory.User, 0, len(included))
	for id, u := range included {
		if _, skip := excluded[id]; skip {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// resolveSpec resolves one rule and applies its nested exclusions, which are
// scoped to this rule's own contribution only.
func (s *ResolverService) resolveSpec(ctx context.Context, instituteID string, spec models.RecipientSpec) ([]directory.User, error) {
	strategy := strategyFor(spec.Kind)
	if strategy == nil {
		return nil, fmt.Errorf("unknown recipient kind %q", spec.Kind)
	}

	users, err := strategy(ctx, s.dir, instituteID, spec.Params)
	if err != nil {
		return nil, err
	}
	if len(spec.Exclusions) == 0 {
		return users, nil
	}

	drop := make(map[string]struct{})
	for _, rule := range spec.Exclusions {
		nested := strategyFor(rule.Kind)
		if nested == nil {
			s.logger.Warn("unknown nested exclusion kind, skipping",
				zap.String("spec_id", spec.ID),
				zap.String("kind", string(rule.Kind)),
			)
			continue
		}
		excludedUsers, err := nested(ctx, s.dir, instituteID, rule.Params)
		if err != nil {
			s.logger.Warn("nested exclusion failed, skipping",
				zap.String("spec_id", spec.ID),
				zap.String("kind", string(rule.Kind)),
				zap.Error(err),
			)
			continue
		}
		for _, u := range excludedUsers {
			drop[u.ID] = struct{}{}
		}
	}

	kept := users[:0]
	for _, u := range users {
		if _, skip := drop[u.ID]; !skip {
			kept = append(kept, u)
		}
	}
	return kept, nil
}

func dedupeSorted(users []directory.User) []directory.User {
	seen := make(map[string]struct{}, len(users))
	result := make([]directory.User, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// directoryLookup is the slice of the directory client used by resolution.
type directoryLookup interface {
	UserByEmail(ctx context.Context, instituteID, email string) (*directory.User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]directory.User, error)
	UsersByRole(ctx context.Context, instituteID, role string, page int) (directory.Page, error)
	UsersByTag(ctx context.Context, instituteID, tagID string, page int) (directory.Page, error)
	UsersByPackageSession(ctx context.Context, instituteID, sessionID string, roles []string, page int) (directory.Page, error)
	UsersByCustomField(ctx context.Context, instituteID string, filters []models.FieldFilter, page int) (directory.Page, error)
	UsersByCampaign(ctx context.Context, instituteID, campaignID string, page int) (directory.Page, error)
	ResolveBatch(ctx context.Context, instituteID string, specs []models.RecipientSpec, page int) (directory.Page, error)
}

// recipientStrategy resolves one targeting rule kind to its member users.
type recipientStrategy func(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error)

// strategyFor returns the resolution strategy for a rule kind, or nil when the
// kind is unknown.
func strategyFor(kind models.RecipientKind) recipientStrategy {
	switch kind {
	case models.RecipientKindUser:
		return resolveUser
	case models.RecipientKindRole:
		return resolveRole
	case models.RecipientKindTag:
		return resolveTag
	case models.RecipientKindPackageSession:
		return resolvePackageSession
	case models.RecipientKindPackageSessionOrgRole:
		return resolvePackageSessionOrgRole
	case models.RecipientKindCustomFieldFilter:
		return resolveCustomFieldFilter
	case models.RecipientKindAudienceCampaign:
		return resolveAudienceCampaign
	}
	return nil
}

func resolveUser(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.UserID != "" {
		users, err := dir.UsersByIDs(ctx, []string{params.UserID})
		if err != nil {
			return nil, fmt.Errorf("resolve user %s: %w", params.UserID, err)
		}
		return users, nil
	}
	if params.Email != "" {
		user, err := dir.UserByEmail(ctx, instituteID, params.Email)
		if err != nil {
			return nil, fmt.Errorf("resolve user by email: %w", err)
		}
		return []directory.User{*user}, nil
	}
	return nil, fmt.Errorf("user rule has neither user_id nor email")
}

func resolveRole(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.Role == "" {
		return nil, fmt.Errorf("role rule missing role")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByRole(ctx, instituteID, params.Role, page)
	})
}

func resolveTag(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.TagID == "" {
		return nil, fmt.Errorf("tag rule missing tag_id")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByTag(ctx, instituteID, params.TagID, page)
	})
}

func resolvePackageSession(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.PackageSessionID == "" {
		return nil, fmt.Errorf("package session rule missing package_session_id")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByPackageSession(ctx, instituteID, params.PackageSessionID, nil, page)
	})
}

func resolvePackageSessionOrgRole(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.PackageSessionID == "" {
		return nil, fmt.Errorf("package session org role rule missing package_session_id")
	}
	roles := splitRoles(params.OrgRoles)
	if len(roles) == 0 {
		return nil, fmt.Errorf("package session org role rule missing org_roles")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByPackageSession(ctx, instituteID, params.PackageSessionID, roles, page)
	})
}

func resolveCustomFieldFilter(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if len(params.Filters) == 0 {
		return nil, fmt.Errorf("custom field rule has no filters")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByCustomField(ctx, instituteID, params.Filters, page)
	})
}

func resolveAudienceCampaign(ctx context.Context, dir directoryLookup, instituteID string, params models.RecipientParams) ([]directory.User, error) {
	if params.CampaignID == "" {
		return nil, fmt.Errorf("campaign rule missing campaign_id")
	}
	return collectPages(func(page int) (directory.Page, error) {
		return dir.UsersByCampaign(ctx, instituteID, params.CampaignID, page)
	})
}

// collectPages drains a paginated lookup. The page cap bounds runaway
// responses from a misbehaving directory.
func collectPages(fetch func(page int) (directory.Page, error)) ([]directory.User, error) {
	const maxPages = 10000
	var users []directory.User
	for page := 0; page < maxPages; page++ {
		result, err := fetch(page)
		if err != nil {
			return nil, err
		}
		users = append(users, result.Users...)
		if !result.HasMore {
			return users, nil
		}
	}
	return nil, fmt.Errorf("pagination exceeded %d pages", maxPages)
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

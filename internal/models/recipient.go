package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecipientKind enumerates the supported targeting rule kinds.
type RecipientKind string

const (
	RecipientKindUser                  RecipientKind = "USER"
	RecipientKindRole                  RecipientKind = "ROLE"
	RecipientKindTag                   RecipientKind = "TAG"
	RecipientKindPackageSession        RecipientKind = "PACKAGE_SESSION"
	RecipientKindPackageSessionOrgRole RecipientKind = "PACKAGE_SESSION_ORG_ROLE"
	RecipientKindCustomFieldFilter     RecipientKind = "CUSTOM_FIELD_FILTER"
	RecipientKindAudienceCampaign      RecipientKind = "AUDIENCE_CAMPAIGN"
)

// KnownRecipientKind reports whether the kind has a registered resolution strategy.
func KnownRecipientKind(kind RecipientKind) bool {
	switch kind {
	case RecipientKindUser, RecipientKindRole, RecipientKindTag,
		RecipientKindPackageSession, RecipientKindPackageSessionOrgRole,
		RecipientKindCustomFieldFilter, RecipientKindAudienceCampaign:
		return true
	}
	return false
}

// FieldFilter is a single custom-field predicate.
type FieldFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// RecipientParams carries the kind-specific parameters of a recipient spec,
// persisted as JSONB. Only the fields relevant to the spec's kind are set.
type RecipientParams struct {
	UserID           string        `json:"user_id,omitempty"`
	Email            string        `json:"email,omitempty"`
	Role             string        `json:"role,omitempty"`
	TagID            string        `json:"tag_id,omitempty"`
	PackageSessionID string        `json:"package_session_id,omitempty"`
	OrgRoles         string        `json:"org_roles,omitempty"` // comma-separated role filter
	Filters          []FieldFilter `json:"filters,omitempty"`
	CampaignID       string        `json:"campaign_id,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p RecipientParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal recipient params: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the params struct.
func (p *RecipientParams) Scan(value interface{}) error {
	return scanJSON(value, p, "recipient params")
}

// ExclusionRule is a nested exclusion scoped to a single spec's contribution.
// It has the same tagged-union shape as the spec itself.
type ExclusionRule struct {
	Kind   RecipientKind   `json:"kind"`
	Params RecipientParams `json:"params"`
}

// ExclusionRules persists a list of nested exclusions as one JSONB column.
type ExclusionRules []ExclusionRule

// Value marshals the rules to JSON for persistence.
func (r ExclusionRules) Value() (driver.Value, error) {
	if r == nil {
		r = ExclusionRules{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal exclusion rules: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the rule list.
func (r *ExclusionRules) Scan(value interface{}) error {
	return scanJSON(value, r, "exclusion rules")
}

// RecipientSpec is one targeting rule attached to an announcement. Specs with
// IsExclusion set contribute to the global exclusion set; Exclusions apply only
// within this spec's own resolved contribution.
type RecipientSpec struct {
	ID             string          `db:"id" json:"id"`
	AnnouncementID string          `db:"announcement_id" json:"announcement_id"`
	Kind           RecipientKind   `db:"kind" json:"kind"`
	Params         RecipientParams `db:"params" json:"params"`
	IsExclusion    bool            `db:"is_exclusion" json:"is_exclusion"`
	Exclusions     ExclusionRules  `db:"exclusions" json:"exclusions,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

func scanJSON(value interface{}, dest interface{}, label string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported %s type %T", label, value)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", label, err)
	}
	return nil
}

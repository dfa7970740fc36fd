package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

type directoryStub struct {
	roles       map[string][]directory.User
	tags        map[string][]directory.User
	users       map[string]directory.User
	batchResult []directory.User
	batchErr    error
	batchCalls  int
	roleErr     map[string]error
}

func newDirectoryStub() *directoryStub {
	return &directoryStub{
		roles:   map[string][]directory.User{},
		tags:    map[string][]directory.User{},
		users:   map[string]directory.User{},
		roleErr: map[string]error{},
	}
}

func (d *directoryStub) UserByEmail(ctx context.Context, instituteID, email string) (*directory.User, error) {
	for _, u := range d.users {
		if u.Email == email {
			copied := u
			return &copied, nil
		}
	}
	return nil, errors.New("user not found")
}

func (d *directoryStub) UsersByIDs(ctx context.Context, ids []string) ([]directory.User, error) {
	var result []directory.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

func (d *directoryStub) UsersByRole(ctx context.Context, instituteID, role string, page int) (directory.Page, error) {
	if err := d.roleErr[role]; err != nil {
		return directory.Page{}, err
	}
	return pageOf(d.roles[role], page, 2), nil
}

func (d *directoryStub) UsersByTag(ctx context.Context, instituteID, tagID string, page int) (directory.Page, error) {
	return pageOf(d.tags[tagID], page, 2), nil
}

func (d *directoryStub) UsersByPackageSession(ctx context.Context, instituteID, sessionID string, roles []string, page int) (directory.Page, error) {
	return directory.Page{}, nil
}

func (d *directoryStub) UsersByCustomField(ctx context.Context, instituteID string, filters []models.FieldFilter, page int) (directory.Page, error) {
	return directory.Page{}, nil
}

func (d *directoryStub) UsersByCampaign(ctx context.Context, instituteID, campaignID string, page int) (directory.Page, error) {
	return directory.Page{}, nil
}

func (d *directoryStub) ResolveBatch(ctx context.Context, instituteID string, specs []models.RecipientSpec, page int) (directory.Page, error) {
	d.batchCalls++
	if d.batchErr != nil {
		return directory.Page{}, d.batchErr
	}
	return pageOf(d.batchResult, page, 2), nil
}

func pageOf(users []directory.User, page, size int) directory.Page {
	start := page * size
	if start >= len(users) {
		return directory.Page{}
	}
	end := start + size
	if end > len(users) {
		end = len(users)
	}
	return directory.Page{Users: users[start:end], HasMore: end < len(users)}
}

func userIDs(users []directory.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func TestResolverSubtractsExclusions(t *testing.T) {
	dir := newDirectoryStub()
	dir.batchErr = errors.New("endpoint disabled")
	dir.roles["STUDENT"] = []directory.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
	dir.tags["suspended"] = []directory.User{{ID: "u2"}}

	resolver := NewResolverService(dir, nil)
	specs := []models.RecipientSpec{
		{ID: "s1", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
		{ID: "s2", Kind: models.RecipientKindTag, Params: models.RecipientParams{TagID: "suspended"}, IsExclusion: true},
	}

	users, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, userIDs(users))
}

func TestResolverNestedExclusionsAreSpecScoped(t *testing.T) {
	dir := newDirectoryStub()
	dir.batchErr = errors.New("endpoint disabled")
	dir.roles["STUDENT"] = []directory.User{{ID: "u1"}, {ID: "u2"}}
	dir.roles["TEACHER"] = []directory.User{{ID: "u2"}, {ID: "u3"}}
	dir.tags["opt-out"] = []directory.User{{ID: "u2"}}

	resolver := NewResolverService(dir, nil)
	specs := []models.RecipientSpec{
		{
			ID:     "s1",
			Kind:   models.RecipientKindRole,
			Params: models.RecipientParams{Role: "STUDENT"},
			Exclusions: models.ExclusionRules{
				{Kind: models.RecipientKindTag, Params: models.RecipientParams{TagID: "opt-out"}},
			},
		},
		{ID: "s2", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "TEACHER"}},
	}

	users, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	// u2 is excluded from the student rule's contribution but still reaches
	// the audience through the teacher rule.
	assert.Equal(t, []string{"u1", "u2", "u3"}, userIDs(users))
}

func TestResolverIsIdempotent(t *testing.T) {
	dir := newDirectoryStub()
	dir.batchErr = errors.New("endpoint disabled")
	dir.roles["STUDENT"] = []directory.User{{ID: "u3"}, {ID: "u1"}, {ID: "u2"}}

	resolver := NewResolverService(dir, nil)
	specs := []models.RecipientSpec{
		{ID: "s1", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
		{ID: "s2", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
	}

	first, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	assert.Equal(t, userIDs(first), userIDs(second))
	assert.Equal(t, []string{"u1", "u2", "u3"}, userIDs(first))
}

func TestResolverBatchMatchesPerRuleResolution(t *testing.T) {
	dir := newDirectoryStub()
	dir.roles["STUDENT"] = []directory.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
	dir.tags["suspended"] = []directory.User{{ID: "u2"}}
	dir.batchResult = []directory.User{{ID: "u1"}, {ID: "u3"}}

	specs := []models.RecipientSpec{
		{ID: "s1", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
		{ID: "s2", Kind: models.RecipientKindTag, Params: models.RecipientParams{TagID: "suspended"}, IsExclusion: true},
	}

	resolver := NewResolverService(dir, nil)
	viaBatch, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	require.Positive(t, dir.batchCalls)

	resolver.batchEnabled = false
	viaRules, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	assert.Equal(t, userIDs(viaRules), userIDs(viaBatch))
}

func TestResolverSkipsUnknownKind(t *testing.T) {
	dir := newDirectoryStub()
	dir.batchErr = errors.New("endpoint disabled")
	dir.roles["STUDENT"] = []directory.User{{ID: "u1"}}

	resolver := NewResolverService(dir, nil)
	specs := []models.RecipientSpec{
		{ID: "s1", Kind: models.RecipientKind("GEOFENCE"), Params: models.RecipientParams{}},
		{ID: "s2", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
	}

	users, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, userIDs(users))
}

func TestResolverFailsWhenEveryRuleFails(t *testing.T) {
	dir := newDirectoryStub()
	dir.batchErr = errors.New("endpoint disabled")
	dir.roleErr["STUDENT"] = errors.New("directory down")

	resolver := NewResolverService(dir, nil)
	specs := []models.RecipientSpec{
		{ID: "s1", Kind: models.RecipientKindRole, Params: models.RecipientParams{Role: "STUDENT"}},
	}

	_, err := resolver.Resolve(context.Background(), "inst-1", specs)
	require.Error(t, err)
}

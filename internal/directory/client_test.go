package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, func()) {
	srv := httptest.NewServer(handler)
	client := NewClient(config.DirectoryConfig{
		BaseURL:  srv.URL,
		Timeout:  2 * time.Second,
		PageSize: 2,
	}, nil)
	return client, srv.Close
}

func TestUsersByRolePagination(t *testing.T) {
	pages := map[int]Page{
		0: {Users: []User{{ID: "u1"}, {ID: "u2"}}, HasMore: true},
		1: {Users: []User{{ID: "u3"}}, HasMore: false},
	}

	client, cleanup := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/users/by-role", r.URL.Path)
		assert.Equal(t, "inst-1", r.URL.Query().Get("instituteId"))
		assert.Equal(t, "TEACHER", r.URL.Query().Get("role"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode(pages[page])
	}))
	defer cleanup()

	first, err := client.UsersByRole(context.Background(), "inst-1", "TEACHER", 0)
	require.NoError(t, err)
	assert.Len(t, first.Users, 2)
	assert.True(t, first.HasMore)

	second, err := client.UsersByRole(context.Background(), "inst-1", "TEACHER", 1)
	require.NoError(t, err)
	assert.Len(t, second.Users, 1)
	assert.False(t, second.HasMore)
}

func TestResolveBatchSendsSpecs(t *testing.T) {
	var received struct {
		InstituteID string                 `json:"institute_id"`
		Specs       []models.RecipientSpec `json:"specs"`
		Page        int                    `json:"page"`
	}

	client, cleanup := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/recipients/resolve", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(Page{Users: []User{{ID: "u1"}}, HasMore: false})
	}))
	defer cleanup()

	specs := []models.RecipientSpec{{
		Kind:   models.RecipientKindRole,
		Params: models.RecipientParams{Role: "STUDENT"},
	}}
	page, err := client.ResolveBatch(context.Background(), "inst-1", specs, 0)
	require.NoError(t, err)
	assert.Len(t, page.Users, 1)
	assert.Equal(t, "inst-1", received.InstituteID)
	require.Len(t, received.Specs, 1)
	assert.Equal(t, models.RecipientKindRole, received.Specs[0].Kind)
}

func TestDirectoryErrorIncludesStatusAndBody(t *testing.T) {
	client, cleanup := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer cleanup()

	_, err := client.UsersByTag(context.Background(), "inst-1", "tag-1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

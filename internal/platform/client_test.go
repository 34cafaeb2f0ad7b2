package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/domain"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, 5*time.Second), srv
}

func TestListProjects(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/projects", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "p1", "organization_id": "org1", "name": "Tryliate Studio", "status": "ACTIVE_HEALTHY"},
		})
	}))
	defer srv.Close()

	projects, err := client.ListProjects(context.Background(), "token-1")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0].ID)
	assert.Equal(t, domain.ProjectStatusActiveHealthy, projects[0].Status)
}

func TestCreateProjectBody(t *testing.T) {
	var got map[string]any
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "p-new", "status": "COMING_UP"})
	}))
	defer srv.Close()

	project, err := client.CreateProject(context.Background(), "token-1", CreateProjectRequest{
		Name:           "Tryliate Studio",
		OrganizationID: "org1",
		Region:         "us-east-1",
		Plan:           "free",
		DBPass:         "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "p-new", project.ID)

	assert.Equal(t, "Tryliate Studio", got["name"])
	assert.Equal(t, "org1", got["organization_id"])
	assert.Equal(t, "us-east-1", got["region"])
	assert.Equal(t, "free", got["plan"])
	assert.Equal(t, "s3cret", got["db_pass"])
}

func TestAPIError(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"insufficient permissions"}`))
	}))
	defer srv.Close()

	_, err := client.ListOrganizations(context.Background(), "bad-token")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "insufficient permissions")
}

func TestProjectKeys(t *testing.T) {
	testCases := []struct {
		name string
		keys []APIKey
		want domain.ProjectKeySet
	}{
		{
			name: "legacy names",
			keys: []APIKey{{Name: "anon", APIKey: "pk"}, {Name: "service_role", APIKey: "sk"}},
			want: domain.ProjectKeySet{PublishableKey: "pk", SecretKey: "sk"},
		},
		{
			name: "current names",
			keys: []APIKey{{Name: "publishable", APIKey: "pk"}, {Name: "secret", APIKey: "sk"}},
			want: domain.ProjectKeySet{PublishableKey: "pk", SecretKey: "sk"},
		},
		{
			name: "first alias wins",
			keys: []APIKey{{Name: "anon", APIKey: "pk1"}, {Name: "publishable", APIKey: "pk2"}},
			want: domain.ProjectKeySet{PublishableKey: "pk1"},
		},
		{
			name: "unknown names ignored",
			keys: []APIKey{{Name: "something", APIKey: "x"}},
			want: domain.ProjectKeySet{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProjectKeys(tc.keys))
		})
	}
}

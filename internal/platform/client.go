package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tryliate/byoi/domain"
)

// Client talks to the remote platform's management API (the control plane for
// listing, creating and inspecting database projects). All calls authenticate
// with the user's management token, passed per call; the client itself holds
// no credentials.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a management API client. timeout bounds each individual
// request; retry policy is the caller's concern.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Organization is a billing organization visible to a management token.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIKey is one of a project's issued API keys.
type APIKey struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// CreateProjectRequest is the body of the create-project call.
type CreateProjectRequest struct {
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
	Region         string `json:"region"`
	Plan           string `json:"plan"`
	DBPass         string `json:"db_pass"`
}

// APIError carries a non-2xx management API response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management api: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// ListProjects returns all projects visible to the management token.
func (c *Client) ListProjects(ctx context.Context, token string) ([]domain.ManagedProject, error) {
	var projects []domain.ManagedProject
	if err := c.do(ctx, http.MethodGet, "/v1/projects", token, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// ListOrganizations returns all organizations visible to the management token.
func (c *Client) ListOrganizations(ctx context.Context, token string) ([]Organization, error) {
	var orgs []Organization
	if err := c.do(ctx, http.MethodGet, "/v1/organizations", token, nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// CreateProject issues the create-project call and returns the new descriptor.
func (c *Client) CreateProject(ctx context.Context, token string, req CreateProjectRequest) (*domain.ManagedProject, error) {
	var project domain.ManagedProject
	if err := c.do(ctx, http.MethodPost, "/v1/projects", token, req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject fetches a single project, used by the readiness poller.
func (c *Client) GetProject(ctx context.Context, token, projectID string) (*domain.ManagedProject, error) {
	var project domain.ManagedProject
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectID, token, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes a project. Used for orphaned-project purges and for
// best-effort remote cleanup during reset.
func (c *Client) DeleteProject(ctx context.Context, token, projectID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/projects/"+projectID, token, nil, nil)
}

// ListAPIKeys returns a project's issued API keys.
func (c *Client) ListAPIKeys(ctx context.Context, token, projectID string) ([]APIKey, error) {
	var keys []APIKey
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectID+"/api-keys", token, nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// ProjectKeys maps the raw key list onto the publishable/secret pair. Key
// names differ between platform generations, so both aliases are accepted.
func ProjectKeys(keys []APIKey) domain.ProjectKeySet {
	var set domain.ProjectKeySet
	for _, k := range keys {
		switch k.Name {
		case "anon", "publishable":
			if set.PublishableKey == "" {
				set.PublishableKey = k.APIKey
			}
		case "service_role", "secret":
			if set.SecretKey == "" {
				set.SecretKey = k.APIKey
			}
		}
	}
	return set
}

package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
)

type fakeIdentities struct {
	records map[string]*domain.UserIdentityRecord

	upsertTokensCalls int
	failUpsertTokens  bool
	failReset         bool
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{records: map[string]*domain.UserIdentityRecord{}}
}

func (f *fakeIdentities) record(userID string) *domain.UserIdentityRecord {
	r, ok := f.records[userID]
	if !ok {
		r = &domain.UserIdentityRecord{UserID: userID}
		f.records[userID] = r
	}
	return r
}

func (f *fakeIdentities) GetByUserID(_ context.Context, userID string) (*domain.UserIdentityRecord, error) {
	r, ok := f.records[userID]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return r, nil
}

func (f *fakeIdentities) UpsertTokens(_ context.Context, userID string, tokens domain.OAuthTokenSet) error {
	f.upsertTokensCalls++
	if f.failUpsertTokens {
		return errors.New("mongo unavailable")
	}
	r := f.record(userID)
	r.SupabaseConnected = true
	r.SupabaseAccessToken = tokens.AccessToken
	r.SupabaseRefreshToken = tokens.RefreshToken
	return nil
}

func (f *fakeIdentities) UpsertProjectLink(_ context.Context, userID string, link domain.ProjectLink) error {
	r := f.record(userID)
	r.SupabaseProjectID = link.ProjectID
	r.SupabaseOrgID = link.OrganizationID
	r.SupabaseURL = link.ProjectURL
	if link.Keys.PublishableKey != "" {
		r.SupabasePublishableKey = link.Keys.PublishableKey
	}
	if link.Keys.SecretKey != "" {
		r.SupabaseSecretKey = link.Keys.SecretKey
	}
	return nil
}

func (f *fakeIdentities) SetInitialized(_ context.Context, userID string, initialized bool) error {
	f.record(userID).TryliateInitialized = initialized
	return nil
}

func (f *fakeIdentities) Reset(_ context.Context, userID string) error {
	if f.failReset {
		return errors.New("mongo unavailable")
	}
	f.records[userID] = &domain.UserIdentityRecord{UserID: userID}
	return nil
}

type fakeRegistry struct {
	entries    map[string]*domain.AuthorizationRegistryEntry
	upserts    int
	failUpsert bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: map[string]*domain.AuthorizationRegistryEntry{}}
}

func (f *fakeRegistry) key(userID, provider string) string { return userID + "/" + provider }

func (f *fakeRegistry) Upsert(_ context.Context, entry *domain.AuthorizationRegistryEntry) error {
	f.upserts++
	if f.failUpsert {
		return errors.New("postgres unavailable")
	}
	copied := *entry
	copied.UpdatedAt = time.Now()
	f.entries[f.key(entry.UserID, entry.Provider)] = &copied
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, userID, provider string) (*domain.AuthorizationRegistryEntry, error) {
	return f.entries[f.key(userID, provider)], nil
}

func (f *fakeRegistry) SetStatus(_ context.Context, userID, provider string, status domain.AuthorizationStatus) error {
	entry, ok := f.entries[f.key(userID, provider)]
	if !ok {
		return errors.New("no entry")
	}
	entry.Status = status
	return nil
}

type fakeMarkers struct {
	done map[string]map[domain.SagaStep]bool
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{done: map[string]map[domain.SagaStep]bool{}}
}

func (f *fakeMarkers) MarkCompleted(_ context.Context, userID string, step domain.SagaStep) error {
	if f.done[userID] == nil {
		f.done[userID] = map[domain.SagaStep]bool{}
	}
	f.done[userID][step] = true
	return nil
}

func (f *fakeMarkers) Completed(_ context.Context, userID string, step domain.SagaStep) (bool, error) {
	return f.done[userID][step], nil
}

func (f *fakeMarkers) Clear(_ context.Context, userID string) error {
	delete(f.done, userID)
	return nil
}

var testTokens = domain.OAuthTokenSet{
	AccessToken:  "at-1",
	RefreshToken: "rt-1",
	Scopes:       []string{"all"},
}

func TestPersistWritesBothStores(t *testing.T) {
	identities := newFakeIdentities()
	registry := newFakeRegistry()
	s := NewSynchronizer(identities, registry, newFakeMarkers(), "supabase")

	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))

	record := identities.records["u1"]
	require.NotNil(t, record)
	assert.True(t, record.SupabaseConnected)
	assert.Equal(t, "at-1", record.SupabaseAccessToken)

	entry, err := registry.Get(context.Background(), "u1", "supabase")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.AuthorizationStatusVerified, entry.Status)
	assert.Equal(t, "at-1", entry.AccessToken)
}

func TestPersistRegistryFailureKeepsMasterWrite(t *testing.T) {
	identities := newFakeIdentities()
	registry := newFakeRegistry()
	registry.failUpsert = true
	s := NewSynchronizer(identities, registry, newFakeMarkers(), "supabase")

	err := s.Persist(context.Background(), "u1", testTokens)
	require.Error(t, err)

	var fe *serrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, serrors.VaultWriteFailed, fe.Code)

	// The master store keeps the tokens; only the registry is stale.
	assert.True(t, identities.records["u1"].SupabaseConnected)
}

func TestPersistResumeSkipsCompletedSteps(t *testing.T) {
	identities := newFakeIdentities()
	registry := newFakeRegistry()
	registry.failUpsert = true
	s := NewSynchronizer(identities, registry, newFakeMarkers(), "supabase")

	require.Error(t, s.Persist(context.Background(), "u1", testTokens))
	assert.Equal(t, 1, identities.upsertTokensCalls)

	// The retry must not redo the completed master write.
	registry.failUpsert = false
	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))
	assert.Equal(t, 1, identities.upsertTokensCalls)
	assert.Equal(t, 2, registry.upserts)
}

func TestBeginOperationReappliesAllSteps(t *testing.T) {
	identities := newFakeIdentities()
	s := NewSynchronizer(identities, nil, newFakeMarkers(), "supabase")

	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))
	assert.Equal(t, 1, identities.upsertTokensCalls)

	// A fresh token exchange clears the markers so the new credentials are
	// written through again.
	s.BeginOperation(context.Background(), "u1")
	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))
	assert.Equal(t, 2, identities.upsertTokensCalls)
}

func TestPersistWithoutRegistry(t *testing.T) {
	identities := newFakeIdentities()
	s := NewSynchronizer(identities, nil, nil, "supabase")

	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))
	assert.True(t, identities.records["u1"].SupabaseConnected)
}

func TestMarkInitialized(t *testing.T) {
	identities := newFakeIdentities()
	s := NewSynchronizer(identities, nil, nil, "supabase")

	require.NoError(t, s.MarkInitialized(context.Background(), "u1"))
	assert.True(t, identities.records["u1"].TryliateInitialized)
}

func TestResetClearsLocalDespiteRemoteFailure(t *testing.T) {
	identities := newFakeIdentities()
	registry := newFakeRegistry()
	markers := newFakeMarkers()
	s := NewSynchronizer(identities, registry, markers, "supabase")

	require.NoError(t, s.Persist(context.Background(), "u1", testTokens))
	require.NoError(t, s.MarkInitialized(context.Background(), "u1"))

	remoteCalled := false
	err := s.Reset(context.Background(), "u1", func(context.Context) error {
		remoteCalled = true
		return errors.New("management api down")
	})
	require.NoError(t, err, "remote failure must not block the local reset")
	assert.True(t, remoteCalled)

	record := identities.records["u1"]
	assert.False(t, record.SupabaseConnected)
	assert.False(t, record.TryliateInitialized)
	assert.Empty(t, record.SupabaseAccessToken)

	entry, _ := registry.Get(context.Background(), "u1", "supabase")
	require.NotNil(t, entry)
	assert.Equal(t, domain.AuthorizationStatusRevoked, entry.Status)

	done, _ := markers.Completed(context.Background(), "u1", domain.SagaStepMasterUpserted)
	assert.False(t, done)
}

func TestResetLocalFailureIsTerminal(t *testing.T) {
	identities := newFakeIdentities()
	identities.failReset = true
	s := NewSynchronizer(identities, nil, nil, "supabase")

	err := s.Reset(context.Background(), "u1", nil)
	require.Error(t, err)

	var fe *serrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, serrors.VaultWriteFailed, fe.Code)
}

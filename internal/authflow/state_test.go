package authflow

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/domain"
)

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	original := domain.AuthorizationState{
		UserID:     "user-123",
		ReturnPath: "/studio?tab=workflows&mode=edit",
		Nonce:      "nonce-abc",
	}

	encoded := EncodeState(original)
	assert.Contains(t, encoded, "v=1")

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeStateLegacyUnversioned(t *testing.T) {
	// Older clients sent the pairs without a version prefix.
	decoded, err := DecodeState("user_id=u1,next=/studio")
	require.NoError(t, err)
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, "/studio", decoded.ReturnPath)
	assert.Empty(t, decoded.Nonce)
}

func TestDecodeStateDoubleEncoded(t *testing.T) {
	encoded := EncodeState(domain.AuthorizationState{UserID: "u1", ReturnPath: "/a b"})
	reEncoded := url.QueryEscape(encoded)

	decoded, err := DecodeState(reEncoded)
	require.NoError(t, err)
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, "/a b", decoded.ReturnPath)
}

func TestDecodeStateErrors(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "no user id", raw: "v=1,next=/studio"},
		{name: "unsupported version", raw: "v=2,user_id=u1"},
		{name: "garbage", raw: "not-a-state"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeState(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestSafeReturnPath(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "/"},
		{name: "relative path", in: "/studio", want: "/studio"},
		{name: "path with query", in: "/studio?tab=nodes", want: "/studio?tab=nodes"},
		{name: "protocol relative", in: "//evil.example.com", want: "/"},
		{name: "absolute url", in: "https://evil.example.com/x", want: "/"},
		{name: "backslash trick", in: "/\\evil.example.com", want: "/"},
		{name: "no leading slash", in: "studio", want: "/"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SafeReturnPath(tc.in))
		})
	}
}

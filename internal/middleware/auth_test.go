package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/entitlement"
	"poscore/internal/shared/testutil"
)

const testSecret = "test-secret-please-rotate"

func adminProtected(t *testing.T) (http.Handler, *entitlement.Actor) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	var seen entitlement.Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return AdminAuth(testSecret, logger)(inner), &seen
}

func TestAdminAuthAcceptsMintedToken(t *testing.T) {
	handler, seen := adminProtected(t)

	token, err := NewAdminToken(testSecret, "admin-7", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/licenses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin-7", seen.ID)
	assert.Equal(t, entitlement.RoleMasterAdmin, seen.Role)
}

func TestAdminAuthRejectsBadTokens(t *testing.T) {
	handler, _ := adminProtected(t)

	expired, err := NewAdminToken(testSecret, "admin-7", -time.Hour)
	require.NoError(t, err)
	wrongSecret, err := NewAdminToken("some-other-secret", "admin-7", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic YWRtaW46cGFzcw=="},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong secret", "Bearer " + wrongSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/licenses", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestActorFromContextDefaultsToClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/eligibility", nil)
	actor := ActorFromContext(req.Context())
	assert.Equal(t, entitlement.RoleClient, actor.Role)
	assert.Empty(t, actor.ID)
}

func TestClientIdentityTagsActor(t *testing.T) {
	var seen entitlement.Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
	})
	handler := ClientIdentity(inner)

	req := httptest.NewRequest(http.MethodPost, "/eligibility", nil)
	req.Header.Set("X-Client-Instance-ID", "instance-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "instance-42", seen.ID)
	assert.Equal(t, entitlement.RoleClient, seen.Role)
}

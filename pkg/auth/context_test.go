package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

func TestAuthContextFromContext(t *testing.T) {
	valid := &AuthContext{Roles: []string{"PAYMENTS"}, Owner: "payment-service"}

	tests := []struct {
		name  string
		value interface{}
		set   bool
		want  ContextState
	}{
		{name: "absent", set: false, want: ContextAbsent},
		{name: "valid pointer", value: valid, set: true, want: ContextValid},
		{name: "valid value", value: *valid, set: true, want: ContextValid},
		{name: "nil pointer", value: (*AuthContext)(nil), set: true, want: ContextAbsent},
		{name: "roles missing", value: &AuthContext{Owner: "svc"}, set: true, want: ContextInvalid},
		{name: "owner missing", value: &AuthContext{Roles: []string{"ADMIN"}}, set: true, want: ContextInvalid},
		{name: "wrong type", value: map[string]interface{}{"roles": "invalid"}, set: true, want: ContextInvalid},
		{name: "string", value: "ADMIN", set: true, want: ContextInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.set {
				ctx = contextkeys.WithAuth(ctx, tt.value)
			}
			ac, state := AuthContextFromContext(ctx)
			assert.Equal(t, tt.want, state)
			if state == ContextValid {
				assert.NotNil(t, ac)
			} else {
				assert.Nil(t, ac)
			}
		})
	}
}

func TestResolvedAPIKeyFromContext(t *testing.T) {
	assert.Nil(t, ResolvedAPIKeyFromContext(context.Background()))

	key := &ResolvedAPIKey{Hash: "h", Permissions: []Permission{PermissionReportsView}}
	ctx := WithResolvedAPIKey(context.Background(), key)
	assert.Same(t, key, ResolvedAPIKeyFromContext(ctx))
	assert.True(t, key.HasPermission(PermissionReportsView))
	assert.False(t, key.HasPermission(PermissionUsersManage))
}

func TestContextState_String(t *testing.T) {
	assert.Equal(t, "absent", ContextAbsent.String())
	assert.Equal(t, "invalid", ContextInvalid.String())
	assert.Equal(t, "valid", ContextValid.String())
}

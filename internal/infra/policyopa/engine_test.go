package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

func baseRequest() usecase.SignatureRequest {
	return usecase.SignatureRequest{
		DocumentID:     "doc-1",
		Family:         bsd.FamilyBSDA,
		Stage:          bsd.StageEmission,
		AuthorizedOrgs: []string{"11111111111111", "88888888888888"},
		ActorOrgs:      []string{"88888888888888"},
		ActorID:        "user-1",
	}
}

func TestEmbeddedPolicy(t *testing.T) {
	engine, err := NewEngine(context.Background(), "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(req *usecase.SignatureRequest)
		allow  bool
		deny   []string
	}{
		{name: "authorized party", mutate: func(*usecase.SignatureRequest) {}, allow: true},
		{
			name:   "other organization",
			mutate: func(req *usecase.SignatureRequest) { req.ActorOrgs = []string{"99999999999999"} },
			deny:   []string{"NOT_A_PARTY"},
		},
		{
			name:   "no organization",
			mutate: func(req *usecase.SignatureRequest) { req.ActorOrgs = nil },
			deny:   []string{"NOT_A_PARTY"},
		},
		{
			name:   "nobody may sign",
			mutate: func(req *usecase.SignatureRequest) { req.AuthorizedOrgs = nil },
			deny:   []string{"NOT_A_PARTY", "NO_AUTHORIZED_COMPANY"},
		},
		{
			name: "admin",
			mutate: func(req *usecase.SignatureRequest) {
				req.ActorOrgs = nil
				req.ActorRoles = []string{usecase.AdminRole}
			},
			allow: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			result, err := engine.Evaluate(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, tc.allow, result.Allow)
			if tc.deny == nil {
				require.Empty(t, result.Deny)
			} else {
				require.Equal(t, tc.deny, result.Deny)
			}

			allowed, err := engine.AllowSignature(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, tc.allow, allowed)
		})
	}
}

func TestPolicyMatchesDefaultOrgPolicy(t *testing.T) {
	engine, err := NewEngine(context.Background(), "")
	require.NoError(t, err)
	fallback := usecase.OrgSignaturePolicy{}

	for _, orgs := range [][]string{nil, {"11111111111111"}, {"x", "88888888888888"}, {"x"}} {
		req := baseRequest()
		req.ActorOrgs = orgs
		want, err := fallback.AllowSignature(context.Background(), req)
		require.NoError(t, err)
		got, err := engine.AllowSignature(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, want, got, "orgs %v", orgs)
	}
}

func TestPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.rego")
	policy := "package bordereau.signature\n\nimport rego.v1\n\nresult := {\"allow\": false, \"deny\": [\"CLOSED\"]}\n"
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	engine, err := NewEngine(context.Background(), path)
	require.NoError(t, err)
	result, err := engine.Evaluate(context.Background(), baseRequest())
	require.NoError(t, err)
	require.False(t, result.Allow)
	require.Equal(t, []string{"CLOSED"}, result.Deny)
}

func TestForbiddenBuiltinsAreRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clock.rego")
	policy := "package bordereau.signature\n\nimport rego.v1\n\nresult := {\"allow\": time.now_ns() > 0, \"deny\": []}\n"
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	_, err := NewEngine(context.Background(), path)
	require.Error(t, err)
}

package policyopa

import "github.com/open-policy-agent/opa/ast"

// Signature policies only compare identifiers; everything that reaches
// outside the input (http, time, crypto, env) is left out.
var allowedBuiltins = map[string]struct{}{
	"count":             {},
	"eq":                {},
	"equal":             {},
	"neq":               {},
	"assign":            {},
	"internal.member_2": {},
	"internal.member_3": {},
	"lower":             {},
	"upper":             {},
	"startswith":        {},
	"endswith":          {},
	"sort":              {},
	"sprintf":           {},
	"object.get":        {},
	"array.concat":      {},
	"and":               {},
	"or":                {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}

package policyopa

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"bordereau/internal/usecase"
)

const defaultQuery = "data.bordereau.signature.result"

//go:embed signature.rego
var embeddedPolicy string

// Engine evaluates the stage signature policy. It implements
// usecase.SignaturePolicy.
type Engine struct {
	query rego.PreparedEvalQuery
}

var _ usecase.SignaturePolicy = (*Engine)(nil)

// Result is what the policy returns for one signature attempt.
type Result struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny"`
}

// NewEngine compiles the policy found at path, or the embedded one when path
// is empty.
func NewEngine(ctx context.Context, path string) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	options := []func(*rego.Rego){
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	if path == "" {
		options = append(options, rego.Module("signature.rego", embeddedPolicy))
	} else {
		options = append(options, rego.Load([]string{path}, nil))
	}
	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile signature policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) AllowSignature(ctx context.Context, req usecase.SignatureRequest) (bool, error) {
	result, err := e.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	return result.Allow, nil
}

func (e *Engine) Evaluate(ctx context.Context, req usecase.SignatureRequest) (Result, error) {
	if e == nil {
		return Result{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(policyInput(req)))
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{}, errors.New("empty policy result")
	}
	return decodeResult(results[0].Expressions[0].Value)
}

func policyInput(req usecase.SignatureRequest) map[string]any {
	return map[string]any{
		"document_id":       req.DocumentID,
		"family":            string(req.Family),
		"stage":             string(req.Stage),
		"authorized_orgs":   nonNil(req.AuthorizedOrgs),
		"actor_orgs":        nonNil(req.ActorOrgs),
		"actor_roles":       nonNil(req.ActorRoles),
		"actor_id":          req.ActorID,
		"document_is_draft": req.DocumentIsDraft,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func decodeResult(value any) (Result, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, fmt.Errorf("decode policy result: %w", err)
	}
	sort.Strings(result.Deny)
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}

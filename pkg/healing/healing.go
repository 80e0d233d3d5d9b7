// Package healing turns a failed interpreter execution into a
// concrete Healing Plan: a set of package requirements that, once
// installed, are expected to resolve the observed error (spec Section
// 4.7, "[ADDED — supplemented from original_source] Healing Plan
// analyzer").
//
// The spec's auto-healer error-pattern table is documentation-level
// only; this package makes it a first-class, testable table of named
// rules, each a CEL boolean expression evaluated against a structured
// ErrorObservation.
package healing

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/bubblepkg/bubblepkg/pkg/installer"
)

// ErrorObservation describes a single failed execution, in the shape
// a worker daemon or the CLI driver would report it.
type ErrorObservation struct {
	Message          string
	ExceptionType    string
	TracebackFrames  []string
	TargetInterpreter string
}

// Rule maps one CEL boolean expression, evaluated against an
// ErrorObservation, to the requirement that resolves it when the
// expression matches.
type Rule struct {
	Name       string
	Expression string
	Resolves   installer.Requirement
}

// Plan is the outcome of analyzing an ErrorObservation: zero or more
// requirements, one per matching rule, in rule-table order.
type Plan struct {
	Requirements []installer.Requirement
	MatchedRules []string
}

// IsEmpty reports whether no rule matched.
func (p Plan) IsEmpty() bool {
	return len(p.Requirements) == 0
}

// Analyzer evaluates a fixed table of Rules against observations. It
// is safe for concurrent use once built, since cel.Program values
// don't mutate shared state during Eval.
type Analyzer struct {
	env     *cel.Env
	rules   []Rule
	program []cel.Program
}

// NewAnalyzer compiles rules against a CEL environment exposing a
// single "observation" variable (a map with the ErrorObservation's
// fields), failing fast on any rule that doesn't compile — an
// unusable rule is a configuration bug, not a runtime condition to
// tolerate silently.
func NewAnalyzer(rules []Rule) (*Analyzer, error) {
	env, err := cel.NewEnv(
		cel.Variable("observation", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}

	programs := make([]cel.Program, len(rules))
	for i, rule := range rules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build program for rule %q: %w", rule.Name, err)
		}
		programs[i] = prg
	}

	return &Analyzer{env: env, rules: rules, program: programs}, nil
}

// Analyze evaluates every rule against obs in table order and
// collects a Requirement for each match. A rule whose expression
// errors at evaluation time (a field access against a nil frame list,
// for instance) is treated as a non-match rather than aborting the
// whole analysis — one malformed rule shouldn't block every other
// rule's diagnosis.
func (a *Analyzer) Analyze(obs ErrorObservation) Plan {
	input := map[string]any{
		"observation": map[string]any{
			"message":            obs.Message,
			"exception_type":     obs.ExceptionType,
			"traceback_frames":   toAnySlice(obs.TracebackFrames),
			"target_interpreter": obs.TargetInterpreter,
		},
	}

	var plan Plan
	for i, rule := range a.rules {
		val, _, err := a.program[i].Eval(input)
		if err != nil {
			continue
		}
		matched, ok := val.Value().(bool)
		if !ok || !matched {
			continue
		}
		plan.Requirements = append(plan.Requirements, rule.Resolves)
		plan.MatchedRules = append(plan.MatchedRules, rule.Name)
	}
	return plan
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

package stagesim

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultDecisionRule is solvent when the score is good and the debt ratio
// is acceptable.
const DefaultDecisionRule = `creditScore >= 700.0 && debtRatio <= 40.0`

// DefaultApprovalRule picks a pricing tier from the loan-to-value ratio, the
// risk score and the loan duration.
const DefaultApprovalRule = `ltv <= 0.8 && riskScore < 0.3 && duration <= 25 ? "optimal"
	: ltv <= 0.9 && riskScore < 0.6 ? "conditional"
	: "refused"`

// Approval tiers an approval rule may return.
const (
	TierOptimal     = "optimal"
	TierConditional = "conditional"
	TierRefused     = "refused"
)

// costLimit bounds evaluation of operator-supplied rules.
const costLimit = 1000000

// Policy is a compiled CEL rule.
type Policy struct {
	Expression string
	program    cel.Program
}

func compilePolicy(env *cel.Env, expr string, want *cel.Type) (*Policy, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); out.String() != want.String() && out.String() != cel.DynType.String() {
		return nil, fmt.Errorf("rule must evaluate to %s, got %s", want, out)
	}

	prg, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Policy{Expression: expr, program: prg}, nil
}

// DecisionPolicy classifies a client as solvent or not.
type DecisionPolicy struct{ *Policy }

// NewDecisionPolicy compiles a boolean rule over creditScore, debtRatio,
// monthlyIncome and monthlyExpenses. An empty rule selects the default.
func NewDecisionPolicy(expr string) (*DecisionPolicy, error) {
	if expr == "" {
		expr = DefaultDecisionRule
	}
	env, err := cel.NewEnv(
		cel.Variable("creditScore", cel.DoubleType),
		cel.Variable("debtRatio", cel.DoubleType),
		cel.Variable("monthlyIncome", cel.DoubleType),
		cel.Variable("monthlyExpenses", cel.DoubleType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	p, err := compilePolicy(env, expr, cel.BoolType)
	if err != nil {
		return nil, fmt.Errorf("decision rule: %w", err)
	}
	return &DecisionPolicy{p}, nil
}

// Solvent evaluates the rule.
func (p *DecisionPolicy) Solvent(creditScore, debtRatio, monthlyIncome, monthlyExpenses float64) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"creditScore":     creditScore,
		"debtRatio":       debtRatio,
		"monthlyIncome":   monthlyIncome,
		"monthlyExpenses": monthlyExpenses,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate decision rule: %w", err)
	}
	solvent, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("decision rule returned %T, want bool", out.Value())
	}
	return solvent, nil
}

// ApprovalPolicy assigns an approval tier.
type ApprovalPolicy struct{ *Policy }

// NewApprovalPolicy compiles a rule over ltv, riskScore, duration and amount
// that returns one of the Tier constants. An empty rule selects the default.
func NewApprovalPolicy(expr string) (*ApprovalPolicy, error) {
	if expr == "" {
		expr = DefaultApprovalRule
	}
	env, err := cel.NewEnv(
		cel.Variable("ltv", cel.DoubleType),
		cel.Variable("riskScore", cel.DoubleType),
		cel.Variable("duration", cel.IntType),
		cel.Variable("amount", cel.DoubleType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	p, err := compilePolicy(env, expr, cel.StringType)
	if err != nil {
		return nil, fmt.Errorf("approval rule: %w", err)
	}
	return &ApprovalPolicy{p}, nil
}

// Tier evaluates the rule.
func (p *ApprovalPolicy) Tier(ltv, risk float64, durationYears int, amount float64) (string, error) {
	out, _, err := p.program.Eval(map[string]any{
		"ltv":       ltv,
		"riskScore": risk,
		"duration":  int64(durationYears),
		"amount":    amount,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate approval rule: %w", err)
	}
	tier, ok := out.Value().(string)
	if !ok {
		return "", fmt.Errorf("approval rule returned %T, want string", out.Value())
	}
	switch tier {
	case TierOptimal, TierConditional, TierRefused:
		return tier, nil
	}
	return "", fmt.Errorf("approval rule returned unknown tier %q", tier)
}

package vendor

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Outcome is the classified meaning of a vendor response.
type Outcome string

const (
	OutcomeApproved            Outcome = "approved"
	OutcomeRejected            Outcome = "rejected"
	OutcomeCredentialExpired   Outcome = "credential_expired"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeAmbiguous           Outcome = "ambiguous"
)

// Rule maps a CEL boolean expression to an outcome. Expressions see:
//
//	code        int     envelope code, 0 when absent
//	has_code    bool
//	status      string  lower-cased envelope status
//	message     string  lower-cased envelope message
//	http_status int
//	has_data    bool    whether a data member was present
type Rule struct {
	Outcome Outcome
	Expr    string
}

// DefaultRules are evaluated top to bottom; the first match wins and no
// match at all classifies the response as ambiguous. A zero code outranks
// failure words in the message, so "completed with no error" is approved;
// a failure status still rejects.
var DefaultRules = []Rule{
	{
		Outcome: OutcomeCredentialExpired,
		Expr: `http_status == 401 ||
			["token expired", "token has expired", "invalid token", "expired token", "token is invalid", "unauthorized"]
				.exists(k, message.contains(k) || status.contains(k))`,
	},
	{
		Outcome: OutcomeInsufficientBalance,
		Expr:    `["insufficient", "low balance", "wallet balance"].exists(k, message.contains(k) || status.contains(k))`,
	},
	{
		Outcome: OutcomeRejected,
		Expr: `(has_code && code != 0) ||
			(http_status >= 400 && http_status != 401) ||
			["fail", "declin", "reject", "error", "invalid", "unsuccess"]
				.exists(k, status.contains(k) || (!(has_code && code == 0) && message.contains(k)))`,
	},
	{
		Outcome: OutcomeApproved,
		Expr: `(has_code && code == 0) ||
			["success", "approved", "completed", "processed"].exists(k, status.contains(k) || message.contains(k))`,
	},
}

type compiledRule struct {
	outcome Outcome
	expr    string
	program cel.Program
}

// Classifier turns a vendor response into an Outcome using a rule table.
type Classifier struct {
	rules []compiledRule
}

func NewClassifier(rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	env, err := cel.NewEnv(
		cel.Variable("code", cel.IntType),
		cel.Variable("has_code", cel.BoolType),
		cel.Variable("status", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("http_status", cel.IntType),
		cel.Variable("has_data", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("vendor: rule environment: %w", err)
	}

	c := &Classifier{}
	for _, r := range rules {
		ast, iss := env.Compile(r.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("vendor: compile rule %s: %w", r.Outcome, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("vendor: rule %s must evaluate to bool", r.Outcome)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("vendor: program rule %s: %w", r.Outcome, err)
		}
		c.rules = append(c.rules, compiledRule{outcome: r.Outcome, expr: r.Expr, program: prg})
	}
	return c, nil
}

// Classify evaluates the rules against the response. Evaluation errors skip
// the rule rather than guessing.
func (c *Classifier) Classify(httpStatus int, env Envelope) Outcome {
	var code int64
	if env.Code != nil {
		code = *env.Code
	}
	vars := map[string]any{
		"code":        code,
		"has_code":    env.Code != nil,
		"status":      strings.ToLower(strings.TrimSpace(env.Status)),
		"message":     strings.ToLower(strings.TrimSpace(env.Message)),
		"http_status": int64(httpStatus),
		"has_data":    len(env.Data) > 0 && string(env.Data) != "null",
	}

	for _, r := range c.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.outcome
		}
	}
	return OutcomeAmbiguous
}

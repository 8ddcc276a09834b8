// Package quota classifies brands into spending policies and enforces the
// monthly per-user caps attached to them.
package quota

import (
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
)

type PolicyKey string

const (
	PolicyAmazon   PolicyKey = "amazon"
	PolicyFlipkart PolicyKey = "flipkart"
	PolicyDefault  PolicyKey = "default"
)

// Policy caps are in minor units; zero means unlimited.
type Policy struct {
	Key                   PolicyKey `json:"key"`
	UPIOnly               bool      `json:"upi_only"`
	MonthlySpendCap       int64     `json:"monthly_spend_cap"`
	MaxDiscountPercentBps int64     `json:"max_discount_percent_bps"`
	MonthlyDiscountCap    int64     `json:"monthly_discount_cap"`
}

// MatchRule assigns Policy to brands whose name or code contains any of Match.
type MatchRule struct {
	Match  []string
	Policy PolicyKey
}

func DefaultRules() []MatchRule {
	return []MatchRule{
		{Match: []string{"amazon"}, Policy: PolicyAmazon},
		{Match: []string{"flipkart"}, Policy: PolicyFlipkart},
	}
}

func DefaultPolicies() map[PolicyKey]Policy {
	return map[PolicyKey]Policy{
		PolicyAmazon: {
			Key:                   PolicyAmazon,
			UPIOnly:               true,
			MonthlySpendCap:       1_000_000,
			MaxDiscountPercentBps: 500,
			MonthlyDiscountCap:    50_000,
		},
		PolicyFlipkart: {
			Key:                   PolicyFlipkart,
			MonthlySpendCap:       1_000_000,
			MaxDiscountPercentBps: 500,
			MonthlyDiscountCap:    50_000,
		},
		PolicyDefault: {Key: PolicyDefault},
	}
}

type Engine struct {
	rules    []MatchRule
	policies map[PolicyKey]Policy
	loc      *time.Location
}

// NewEngine merges policies over the defaults. Nil rules select the default
// rule set.
func NewEngine(rules []MatchRule, policies map[PolicyKey]Policy, timezone string) (*Engine, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	merged := DefaultPolicies()
	for key, p := range policies {
		p.Key = key
		merged[key] = p
	}

	if timezone == "" {
		timezone = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("quota: load timezone %q: %w", timezone, err)
	}

	normalized := make([]MatchRule, 0, len(rules))
	for _, r := range rules {
		nr := MatchRule{Policy: r.Policy}
		for _, m := range r.Match {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				nr.Match = append(nr.Match, m)
			}
		}
		normalized = append(normalized, nr)
	}

	return &Engine{rules: normalized, policies: merged, loc: loc}, nil
}

func NewEngineFromConfig(cfg internal.QuotaConfig) (*Engine, error) {
	var rules []MatchRule
	for _, r := range cfg.Rules {
		rules = append(rules, MatchRule{Match: r.Match, Policy: PolicyKey(r.Policy)})
	}
	policies := make(map[PolicyKey]Policy, len(cfg.Policies))
	for key, p := range cfg.Policies {
		policies[PolicyKey(key)] = Policy{
			UPIOnly:               p.UPIOnly,
			MonthlySpendCap:       p.MonthlySpendCap,
			MaxDiscountPercentBps: p.MaxDiscountPercentBps,
			MonthlyDiscountCap:    p.MonthlyDiscountCap,
		}
	}
	return NewEngine(rules, policies, cfg.Timezone)
}

// Classify matches case-insensitively on the brand name, then the code.
func (e *Engine) Classify(brandName, brandCode string) PolicyKey {
	name := strings.ToLower(brandName)
	code := strings.ToLower(brandCode)
	for _, r := range e.rules {
		for _, m := range r.Match {
			if strings.Contains(name, m) || strings.Contains(code, m) {
				return r.Policy
			}
		}
	}
	return PolicyDefault
}

// PolicyFor returns the policy for key. Unknown keys get an uncapped policy.
func (e *Engine) PolicyFor(key PolicyKey) Policy {
	if p, ok := e.policies[key]; ok {
		return p
	}
	return Policy{Key: key}
}

// MonthKey formats t as YYYY-MM in the engine's business timezone.
func (e *Engine) MonthKey(t time.Time) string {
	return t.In(e.loc).Format("2006-01")
}

// EffectiveDiscountBps limits a brand discount by the policy maximum.
func (p Policy) EffectiveDiscountBps(brandBps int64) int64 {
	if brandBps < 0 {
		return 0
	}
	if p.MaxDiscountPercentBps > 0 && brandBps > p.MaxDiscountPercentBps {
		return p.MaxDiscountPercentBps
	}
	return brandBps
}

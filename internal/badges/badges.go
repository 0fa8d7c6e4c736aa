// Package badges evaluates badge rules against an employee's standing.
//
// Rules are written in CUE and checked against an embedded schema, so a
// malformed rule file fails at load time with a positioned error rather than
// silently awarding nothing.
package badges

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSrc string

//go:embed default.cue
var defaultSrc []byte

// Metric names the statistic a rule compares.
type Metric string

const (
	MetricRank     Metric = "rank"
	MetricReceived Metric = "received"
	MetricSent     Metric = "sent"
	MetricStreak   Metric = "streak"
	MetricBalance  Metric = "balance"
)

// Rule awards a badge when Metric Op Threshold holds.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Metric      Metric `json:"metric"`
	Op          string `json:"op"`
	Threshold   int64  `json:"threshold"`
}

// Badge is an awarded rule.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Stats is the standing a rule set is evaluated against.
// Rank is 1-based; 0 means unranked and never satisfies a rank rule.
type Stats struct {
	Rank     int
	Received int64
	Sent     int64
	Streak   int64
	Balance  int64
}

// RuleSet is an ordered, validated list of rules.
type RuleSet struct {
	rules []Rule
}

// Default returns the built-in rule set.
// Panics if the embedded rules are invalid, which tests guard against.
func Default() RuleSet {
	rs, err := Load("default.cue", defaultSrc)
	if err != nil {
		panic(err)
	}
	return rs
}

// Load compiles a CUE rule document against the rule schema.
func Load(filename string, src []byte) (RuleSet, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("badge schema: %s", cueerrors.Details(err, nil))
	}

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("badge rules: %s", cueerrors.Details(err, nil))
	}

	merged := schema.Unify(doc)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return RuleSet{}, fmt.Errorf("badge rules: %s", cueerrors.Details(err, nil))
	}

	list := merged.LookupPath(cue.ParsePath("badges"))
	if !list.Exists() {
		return RuleSet{}, fmt.Errorf("badge rules %s: missing top-level badges list", filename)
	}

	var rules []Rule
	if err := list.Decode(&rules); err != nil {
		return RuleSet{}, fmt.Errorf("badge rules %s: %w", filename, err)
	}
	if len(rules) == 0 {
		return RuleSet{}, fmt.Errorf("badge rules %s: no rules defined", filename)
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return RuleSet{}, fmt.Errorf("badge rules %s: duplicate id %q", filename, r.ID)
		}
		seen[r.ID] = true
	}
	return RuleSet{rules: rules}, nil
}

// Rules returns a copy of the rules in evaluation order.
func (rs RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Evaluate returns the badges whose rules hold for st, in rule order.
func (rs RuleSet) Evaluate(st Stats) []Badge {
	var out []Badge
	for _, r := range rs.rules {
		if r.matches(st) {
			out = append(out, Badge{ID: r.ID, Name: r.Name, Description: r.Description})
		}
	}
	return out
}

func (r Rule) matches(st Stats) bool {
	var v int64
	switch r.Metric {
	case MetricRank:
		if st.Rank <= 0 {
			return false
		}
		v = int64(st.Rank)
	case MetricReceived:
		v = st.Received
	case MetricSent:
		v = st.Sent
	case MetricStreak:
		v = st.Streak
	case MetricBalance:
		v = st.Balance
	default:
		return false
	}

	switch r.Op {
	case "<=":
		return v <= r.Threshold
	case ">=":
		return v >= r.Threshold
	case "==":
		return v == r.Threshold
	}
	return false
}

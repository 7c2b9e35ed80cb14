package artifacts

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

const (
	ruleArrow     = "=>"
	excludePrefix = "-:"
	wildcardChars = "*?[{"
)

// Rule is one artifact path rule. Producing rules only use Pattern; consuming
// rules also carry the Target directory the matched files are placed under.
// A rule written as "-:pattern" excludes matching paths.
type Rule struct {
	Pattern string
	Target  string
	Exclude bool

	compiled glob.Glob
	prefix   string
}

// ParseRule parses "pattern", "pattern => target" or "-:pattern".
func ParseRule(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	var r Rule
	if strings.HasPrefix(s, excludePrefix) {
		r.Exclude = true
		s = strings.TrimSpace(strings.TrimPrefix(s, excludePrefix))
	}

	if pattern, target, ok := strings.Cut(s, ruleArrow); ok {
		if r.Exclude {
			return Rule{}, fmt.Errorf("artifact rule %q: exclusions cannot have a target", raw)
		}
		s = strings.TrimSpace(pattern)
		r.Target = cleanTarget(target)
	}
	if s == "" {
		return Rule{}, fmt.Errorf("artifact rule %q: empty pattern", raw)
	}
	r.Pattern = strings.TrimPrefix(path.Clean(s), "./")
	if strings.HasSuffix(s, "/") {
		// "dist/" is shorthand for everything below dist.
		r.Pattern += "/**"
	}

	compiled, err := glob.Compile(r.Pattern, '/')
	if err != nil {
		return Rule{}, fmt.Errorf("artifact rule %q: %w", raw, err)
	}
	r.compiled = compiled
	r.prefix = staticPrefix(r.Pattern)
	return r, nil
}

// MustParseRule is ParseRule for rules known to be valid at compile time.
func MustParseRule(raw string) Rule {
	r, err := ParseRule(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRules parses every rule, stopping at the first invalid one.
func ParseRules(raw []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for _, s := range raw {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// String renders the rule back into its textual form.
func (r Rule) String() string {
	switch {
	case r.Exclude:
		return excludePrefix + r.Pattern
	case r.Target != "":
		return r.Pattern + " " + ruleArrow + " " + r.Target
	default:
		return r.Pattern
	}
}

// Match reports whether the rule's pattern matches the slash separated path.
func (r Rule) Match(p string) bool {
	if r.compiled == nil {
		return false
	}
	return r.compiled.Match(normalize(p))
}

// Destination is where a matched path lands under this rule: the pattern's
// static prefix is stripped and the remainder joined onto Target.
func (r Rule) Destination(p string) string {
	p = normalize(p)
	rel := strings.TrimPrefix(p, r.prefix)
	if r.Target == "" {
		return rel
	}
	return path.Join(r.Target, rel)
}

// Mapping is a produced path together with its location in the consumer's
// working tree.
type Mapping struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Map applies consuming rules to the producer's paths. A path is taken by the
// first include rule that matches it, unless any exclusion matches. The result
// is sorted by source path.
func Map(rules []Rule, paths []string) []Mapping {
	var out []Mapping
	for _, p := range sortedPaths(paths) {
		if excluded(rules, p) {
			continue
		}
		for _, r := range rules {
			if r.Exclude || !r.Match(p) {
				continue
			}
			out = append(out, Mapping{Source: p, Target: r.Destination(p)})
			break
		}
	}
	return out
}

// Filter keeps the paths matched by at least one include rule and no
// exclusion. It is used for a stage's producing rules.
func Filter(rules []Rule, paths []string) []string {
	var out []string
	for _, p := range sortedPaths(paths) {
		if excluded(rules, p) {
			continue
		}
		for _, r := range rules {
			if !r.Exclude && r.Match(p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func excluded(rules []Rule, p string) bool {
	for _, r := range rules {
		if r.Exclude && r.Match(p) {
			return true
		}
	}
	return false
}

func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	var prefix strings.Builder
	for i, seg := range segments {
		if i == len(segments)-1 || strings.ContainsAny(seg, wildcardChars) {
			break
		}
		prefix.WriteString(seg)
		prefix.WriteByte('/')
	}
	return prefix.String()
}

func cleanTarget(t string) string {
	t = strings.TrimSpace(t)
	if t == "" || t == "." || t == "./" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(t), "./")
}

func normalize(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
}

func sortedPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, normalize(p))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

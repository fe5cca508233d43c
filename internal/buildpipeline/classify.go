package buildpipeline

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed classify_rules.yaml
var defaultClassifyRules []byte

// classifyRule is one entry of the YAML stderr-classification sidecar
// fixture: a human-readable name and the regexp that identifies it.
type classifyRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// classifier groups a failed build's stderr tail into one of a handful of
// common causes (missing system header, missing compiler, a transient
// network failure fetching a build dependency) so BuildError can report
// something more actionable than "backend failed".
type classifier struct {
	rules []compiledRule
}

// loadClassifier compiles a YAML rule set (classify_rules.yaml's shape)
// into a classifier, failing on the first unparseable regexp so a typo in
// the fixture is caught at init time rather than silently matching nothing.
func loadClassifier(raw []byte) (*classifier, error) {
	var rules []classifyRule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parsing stderr classification rules: %w", err)
	}

	c := &classifier{rules: make([]compiledRule, 0, len(rules))}

	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling classification pattern %q (%s): %w", r.Pattern, r.Name, err)
		}

		c.rules = append(c.rules, compiledRule{name: r.Name, re: re})
	}

	return c, nil
}

// classify returns the first matching rule's name, or "" if none match.
func (c *classifier) classify(stderr string) string {
	for _, r := range c.rules {
		if r.re.MatchString(stderr) {
			return r.name
		}
	}

	return ""
}

var defaultClassifier = mustLoadClassifier(defaultClassifyRules)

func mustLoadClassifier(raw []byte) *classifier {
	c, err := loadClassifier(raw)
	if err != nil {
		panic(err)
	}

	return c
}

func looksLikeMissingHeader(stderr string) bool {
	return defaultClassifier.classify(stderr) == "missing-header"
}

package buildpipeline

import "testing"

func TestLoadClassifier(t *testing.T) {
	c, err := loadClassifier([]byte(`
- name: missing-header
  pattern: "fatal error:.*\\.h"
`))
	if err != nil {
		t.Fatalf("loadClassifier: %v", err)
	}

	if got := c.classify("fatal error: Python.h: No such file or directory"); got != "missing-header" {
		t.Errorf("classify() = %q, want missing-header", got)
	}

	if got := c.classify("some other failure"); got != "" {
		t.Errorf("classify() = %q, want empty for an unmatched message", got)
	}
}

func TestLoadClassifierRejectsBadPattern(t *testing.T) {
	_, err := loadClassifier([]byte(`
- name: broken
  pattern: "("
`))
	if err == nil {
		t.Fatal("expected an error for an unparseable regexp")
	}
}

func TestLooksLikeMissingHeaderUsesDefaultRules(t *testing.T) {
	if !looksLikeMissingHeader("fatal error: Python.h: No such file or directory") {
		t.Error("expected the default classifier to recognize a missing-header message")
	}

	if looksLikeMissingHeader("Traceback (most recent call last): ...") {
		t.Error("expected a generic traceback not to classify as missing-header")
	}
}

package marker

import (
	"strings"

	"github.com/pipg-project/pipg/internal/pep440"
)

// Environment supplies concrete values for PEP 508 environment variables.
// Extras activated for the current evaluation are passed separately to
// Eval, since their truth depends on which optional dependency is being
// expanded rather than on the platform.
type Environment struct {
	PythonVersion                string
	PythonFullVersion            string
	OSName                       string
	SysPlatform                  string
	PlatformRelease              string
	PlatformSystem               string
	PlatformVersion              string
	PlatformMachine              string
	PlatformPythonImplementation string
	ImplementationName           string
	ImplementationVersion        string
}

func (e Environment) lookup(varName string) string {
	switch varName {
	case "python_version":
		return e.PythonVersion
	case "python_full_version":
		return e.PythonFullVersion
	case "os_name":
		return e.OSName
	case "sys_platform":
		return e.SysPlatform
	case "platform_release":
		return e.PlatformRelease
	case "platform_system":
		return e.PlatformSystem
	case "platform_version":
		return e.PlatformVersion
	case "platform_machine":
		return e.PlatformMachine
	case "platform_python_implementation":
		return e.PlatformPythonImplementation
	case "implementation_name":
		return e.ImplementationName
	case "implementation_version":
		return e.ImplementationVersion
	default:
		return ""
	}
}

// Eval evaluates m against env, with extras[name] true for every activated
// extra. A TRUE marker always evaluates true; FALSE always false.
func (m MarkerTree) Eval(env Environment, extras map[string]bool) bool {
	return evalNode(m.n, env, extras)
}

func evalNode(n *node, env Environment, extras map[string]bool) bool {
	switch n.kind {
	case kindTrue:
		return true
	case kindFalse:
		return false
	case kindAnd:
		for _, c := range n.children {
			if !evalNode(c, env, extras) {
				return false
			}
		}

		return true
	case kindOr:
		for _, c := range n.children {
			if evalNode(c, env, extras) {
				return true
			}
		}

		return false
	case kindAtom:
		return evalAtom(n, env, extras)
	default:
		return false
	}
}

func evalAtom(n *node, env Environment, extras map[string]bool) bool {
	if n.varName == "extra" {
		active := extras[n.value]
		if n.op == opNe {
			return !active
		}

		return active
	}

	envValue := env.lookup(n.varName)

	if versionVars[n.varName] {
		if lv, lerr := pep440.Parse(envValue); lerr == nil {
			if rv, rerr := pep440.Parse(n.value); rerr == nil {
				return evalVersionOp(n.op, lv, rv)
			}
		}
	}

	return evalStringOp(n.op, envValue, n.value)
}

func evalVersionOp(o op, left, right pep440.Version) bool {
	switch o {
	case opEq:
		return left.Equal(right)
	case opNe:
		return !left.Equal(right)
	case opLt:
		return left.LessThan(right)
	case opLe:
		return left.LessThan(right) || left.Equal(right)
	case opGt:
		return left.GreaterThan(right)
	case opGe:
		return left.GreaterThan(right) || left.Equal(right)
	default:
		return evalStringOp(o, left.String(), right.String())
	}
}

func evalStringOp(o op, left, right string) bool {
	switch o {
	case opEq:
		return left == right
	case opNe:
		return left != right
	case opLt:
		return left < right
	case opLe:
		return left <= right
	case opGt:
		return left > right
	case opGe:
		return left >= right
	case opIn:
		return strings.Contains(right, left)
	case opNotIn:
		return !strings.Contains(right, left)
	default:
		return false
	}
}

package healing

import "github.com/bubblepkg/bubblepkg/pkg/installer"

// DefaultRules is the built-in rule table, covering the error
// categories original_source's ai_import_healer-adjacent tooling
// pattern-matched by hand: a missing module, a version assertion that
// names the version it wanted, and a native-extension ABI mismatch
// between the built wheel and the running interpreter.
//
// Resolves.Version is left blank where the observation doesn't name a
// specific version the caller should pin to; the caller is expected to
// fill in a concrete constraint (e.g. from the knowledge base's latest
// known-good build) before handing the requirement to the installer.
var DefaultRules = []Rule{
	{
		Name:       "missing_module",
		Expression: `observation.exception_type == "ModuleNotFoundError" || observation.exception_type == "ImportError"`,
		Resolves:   installer.Requirement{},
	},
	{
		Name: "version_assertion_mismatch",
		Expression: `observation.exception_type == "AssertionError" && ` +
			`observation.message.contains("version")`,
		Resolves: installer.Requirement{},
	},
	{
		Name: "native_abi_mismatch",
		Expression: `observation.message.contains("undefined symbol") || ` +
			`observation.message.contains("incompatible ABI") || ` +
			`observation.message.contains("wrong ELF class")`,
		Resolves: installer.Requirement{},
	},
}

// ModuleRequirement returns a copy of DefaultRules' missing_module
// rule bound to a concrete package requirement, for callers that
// already know which package a ModuleNotFoundError corresponds to
// (typically by resolving the traceback's missing module name against
// the knowledge base's provided-modules index).
func ModuleRequirement(name, version string) Rule {
	return Rule{
		Name:       "missing_module",
		Expression: DefaultRules[0].Expression,
		Resolves:   installer.Requirement{Name: name, Version: version},
	}
}

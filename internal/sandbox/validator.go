package sandbox

import (
	"fmt"
	"regexp"
)

// ValidationError is a code rejection with a human-readable reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("code rejected: %s", e.Reason)
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

// rules are checked in order; the first match decides the reason. They flag
// file, process, network and dynamic-code access. The data is already bound
// to df, so generated code has no business touching any of these.
var rules = []rule{
	{regexp.MustCompile(`\bread_(csv|excel|json|parquet|table|sql)\b`), "reading files from disk is not allowed; use the df variable"},
	{regexp.MustCompile(`\breadFile(Sync)?\b|\bwriteFile(Sync)?\b`), "file system access is not allowed"},
	{regexp.MustCompile(`\bopen\s*\(`), "opening files is not allowed"},
	{regexp.MustCompile(`\brequire\s*\(`), "loading modules is not allowed"},
	{regexp.MustCompile(`\bimport\b|__import__`), "imports are not allowed"},
	{regexp.MustCompile(`\bprocess\s*\.|\bchild_process\b|\bsubprocess\b`), "process access is not allowed"},
	{regexp.MustCompile(`\bos\s*\.`), "operating system access is not allowed"},
	{regexp.MustCompile(`\b(Deno|Bun)\s*\.`), "runtime access is not allowed"},
	{regexp.MustCompile(`\bfetch\s*\(|\bXMLHttpRequest\b|\bWebSocket\b`), "network access is not allowed"},
	{regexp.MustCompile(`\beval\s*\(|\bFunction\s*\(|\bconstructor\b`), "dynamic code evaluation is not allowed"},
	{regexp.MustCompile(`\bglobalThis\b|\b__proto__\b`), "access to the global object is not allowed"},
}

// Validate inspects code before execution. It returns (true, "ok") for code
// that may run, or (false, reason) naming the first forbidden construct.
// The check is textual and is paired with the restricted runtime namespace;
// it is not a security boundary on its own.
func Validate(code string) (bool, string) {
	for _, r := range rules {
		if r.re.MatchString(code) {
			return false, r.reason
		}
	}
	return true, "ok"
}

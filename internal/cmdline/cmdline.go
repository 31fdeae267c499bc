// Package cmdline resolves configured command strings into argv vectors
// shared by the process launcher and the exec prober.
package cmdline

import "strings"

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// Split resolves a command string into a program name and arguments. An
// explicit leading "sh -c <arg>" is unwrapped first so re-wrapping never
// stacks a second shell; commands containing shell metacharacters run under
// /bin/sh -c (absolute path, so an overridden Env cannot redirect the
// shell); anything else is split on whitespace and exec'd directly. An
// empty command resolves to /bin/true.
func Split(cmdStr string) (string, []string) {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return "/bin/true", nil
	}
	if arg, ok := unwrapExplicitShell(cmdStr); ok {
		return "/bin/sh", []string{"-c", arg}
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		return "/bin/sh", []string{"-c", cmdStr}
	}
	fields := strings.Fields(cmdStr)
	return fields[0], fields[1:]
}

// unwrapExplicitShell detects a leading "sh -c" (bare or absolute) and
// returns the argument that follows. One level of matching outer quotes is
// stripped so the inner command keeps its original quoting when re-wrapped.
func unwrapExplicitShell(s string) (string, bool) {
	for _, prefix := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		if n := len(rest); n >= 2 {
			if q := rest[0]; (q == '\'' || q == '"') && rest[n-1] == q {
				rest = rest[1 : n-1]
			}
		}
		return rest, true
	}
	return "", false
}

package infrastructure

import "strings"

// shellSpecial lists characters the shell would interpret
const shellSpecial = " \t\n\r'\"$`\\!*?[](){}|;<>&~#%"

// QuoteArg quotes s so it can be pasted into a POSIX shell. It is only used
// to render commands in logs; exec never goes through a shell.
func QuoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// FormatCommand renders binary and args as a copy-pasteable command line
func FormatCommand(binary string, args ...string) string {
	var b strings.Builder
	b.WriteString(QuoteArg(binary))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(QuoteArg(arg))
	}
	return b.String()
}

// Package redact strips credentials from text before it reaches a log line,
// an error payload returned to the orchestrator, or the audit log.
//
// The agent handles three kinds of secret: the registry password (fed to the
// container CLI on stdin), the shared agent/orchestrator tokens, and the
// database server password. Redaction is best-effort and works on string
// forms only; the primary rule is still to keep secrets out of argv and log
// call-sites in the first place.
package redact

import (
	"net/url"
	"strings"
)

const placeholder = "[REDACTED]"

// Placeholder is the text substituted for a secret.
const Placeholder = placeholder

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// mangling unrelated text.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Args returns a copy of argv with the value of any secret-looking flag
// replaced. Both "--password x" and "--password=x" forms are handled.
func Args(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	for i := 0; i < len(out); i++ {
		arg := out[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !isSensitiveKey(name) {
			continue
		}
		if hasValue {
			out[i] = arg[:strings.Index(arg, "=")+1] + placeholder
			continue
		}
		// --password-stdin carries no value.
		if strings.HasSuffix(name, "-stdin") {
			continue
		}
		if i+1 < len(out) {
			out[i+1] = placeholder
			i++
		}
	}
	return out
}

// URL removes the password from a URL's userinfo section, e.g. a
// mongodb:// connection string. Unparseable input is returned as-is.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
		return strings.Replace(u.String(), "xxxxx", placeholder, 1)
	}
	return raw
}

// Map returns a shallow copy of m with string values replaced for every key
// whose name suggests a secret.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "credential", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

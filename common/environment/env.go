// Package environment reads agent settings from environment variables.
//
// Values are trimmed before use and a variable that is unset, empty or only
// whitespace is treated as absent, so a stray "FOO= " in a unit file falls
// back to the default instead of producing a blank setting. Parse failures
// also fall back to the default; required settings are checked by the
// caller, which keeps os.Exit out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the trimmed value of the named variable and whether it
// holds anything other than whitespace.
func Lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// StringOr returns the trimmed value of name, or defaultValue when absent.
func StringOr(name, defaultValue string) string {
	if v, ok := Lookup(name); ok {
		return v
	}
	return defaultValue
}

// FirstOf returns the first present variable among names, or "".
func FirstOf(names ...string) string {
	for _, n := range names {
		if v, ok := Lookup(n); ok {
			return v
		}
	}
	return ""
}

// RequiredString returns the value of name or an error when it is absent.
func RequiredString(name string) (string, error) {
	v, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses name as a boolean. Besides the strconv.ParseBool forms it
// accepts "yes"/"no" and "on"/"off", case-insensitively.
func BoolOr(name string, defaultValue bool) bool {
	v, ok := Lookup(name)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// IntOr parses name as a decimal integer.
func IntOr(name string, defaultValue int) int {
	v, ok := Lookup(name)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// DurationOr parses name as a time.Duration ("30s", "5m"). A bare integer is
// read as a number of seconds, matching how the deploy side documents its
// *_SECONDS knobs.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v, ok := Lookup(name)
	if !ok {
		return defaultValue
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

package metrics

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"*dispatch.TimeoutError":        "Send timed out",
	"*httpsink.StatusError":         "HTTP error response",
	"*httpsink.AckError":            "Not acknowledged",
	"*oauth2.RetrieveError":         "Auth token rejected",
	"*url.Error":                    "Request URL error",
	"*net.OpError":                  "Network error",
	"*websocket.CloseError":         "WebSocket closed",
	"kafka.Error":                   "Kafka error",
	"sqlite3.Error":                 "SQLite error",
	"*clickhouse.Exception":         "ClickHouse exception",
	"*errors.errorString":           "Error",
	"*fmt.wrapError":                "Wrapped error",
	"context.deadlineExceededError": "Context deadline exceeded",
}

// genericTypes have aliases but carry no cause of their own.
var genericTypes = map[string]bool{
	"*errors.errorString": true,
	"*fmt.wrapError":      true,
}

// ErrorTypeName returns the %T name of the outermost error in a single-error
// wrapping chain that has its own alias, so *url.Error is not reported as the
// syscall.Errno it wraps. Without such a type it returns the innermost cause.
func ErrorTypeName(err error) string {
	for {
		name := fmt.Sprintf("%T", err)
		if _, ok := friendlyAliases[name]; ok && !genericTypes[name] {
			return name
		}
		next := errors.Unwrap(err)
		if next == nil {
			return name
		}
		err = next
	}
}

// FriendlyErrorName turns a %T error type name into a short label used to
// group failures, e.g. "*httpsink.StatusError" becomes "HTTP error response".
func FriendlyErrorName(typeName string) string {
	cleaned := strings.TrimSpace(typeName)
	if cleaned == "" {
		return "Unknown error"
	}

	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}

	cleaned = strings.TrimPrefix(cleaned, "*")
	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}

	pkg := ""
	name := cleaned
	if idx := strings.Index(name, "."); idx != -1 {
		pkg = name[:idx]
		name = name[idx+1:]
	}

	pretty := humanizeTypeName(name)
	if pretty == "" {
		pretty = name
	}

	lowerPkg := strings.ToLower(pkg)
	lowerPretty := strings.ToLower(pretty)

	switch {
	case lowerPkg == "context" && strings.Contains(lowerPretty, "deadline"):
		return "Context deadline exceeded"
	case lowerPkg == "dispatch" && strings.Contains(lowerPretty, "timeout"):
		return "Send timed out"
	case lowerPkg == "url" && strings.Contains(lowerPretty, "error"):
		return "Request URL error"
	}

	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

// humanizeTypeName splits a Go identifier into capitalized words, keeping
// acronyms intact: "deadlineExceededError" -> "Deadline Exceeded Error",
// "HTTPError" -> "HTTP Error".
func humanizeTypeName(name string) string {
	runes := []rune(name)
	var words []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && !wordBoundary(runes, i) {
			continue
		}
		word := string(runes[start:i])
		if !isAllUpper(word) {
			word = capitalize(word)
		}
		words = append(words, word)
		start = i
	}
	return strings.Join(words, " ")
}

func wordBoundary(runes []rune, i int) bool {
	prev, cur := runes[i-1], runes[i]
	switch {
	case unicode.IsUpper(cur) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(cur) && unicode.IsUpper(prev):
		return i+1 < len(runes) && unicode.IsLower(runes[i+1])
	case unicode.IsDigit(cur):
		return !unicode.IsDigit(prev)
	}
	return false
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

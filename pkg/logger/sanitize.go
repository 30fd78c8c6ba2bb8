package logger

import (
	"net/url"
	"sort"
	"strings"
)

// SanitizedEmail masks an address for logs, e.g. "alice@example.com" -> "a****@e******.com".
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = maskTail(labels[i])
	}
	if len(labels) == 1 {
		labels[0] = maskTail(labels[0])
	}

	return maskTail(local) + "@" + strings.Join(labels, ".")
}

func maskTail(s string) string {
	if len(s) <= 1 {
		return s
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}

// sensitiveParams are query parameters whose values never reach the logs.
var sensitiveParams = map[string]bool{
	"email":    true,
	"code":     true,
	"token":    true,
	"password": true,
	"secret":   true,
}

// RedactQuery returns rawQuery with the values of sensitive parameters
// replaced. A query that does not parse is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED]"
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			if sensitiveParams[strings.ToLower(k)] {
				v = "[REDACTED]"
			} else {
				v = url.QueryEscape(v)
			}
			parts = append(parts, url.QueryEscape(k)+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

package audit

import "strings"

// RedactedPlaceholder replaces sensitive values before persistence.
// Replacement is irreversible; redacted values never appear in
// plaintext in any stored entry.
const RedactedPlaceholder = "[REDACTED]"

// DefaultSensitiveFields is the built-in sensitive-field-name set.
// Matching is case-insensitive and ignores underscores, so "apiKey",
// "api_key" and "APIKEY" all match.
var DefaultSensitiveFields = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"accesstoken",
	"refreshtoken",
	"authorization",
	"credential",
	"credentials",
	"privatekey",
	"ssn",
	"creditcard",
	"cvv",
}

func normalizeFieldName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// redactMap walks nested maps and replaces sensitive values on a copy.
// Arrays are walked element-wise (maps inside them are redacted) but
// are never redaction targets themselves.
func (l *Logger) redactMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if l.sensitive[normalizeFieldName(k)] {
			out[k] = RedactedPlaceholder
			continue
		}
		out[k] = l.redactValue(v)
	}
	return out
}

func (l *Logger) redactValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		return l.redactMap(tv)
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, e := range tv {
			out[i] = l.redactValue(e)
		}
		return out
	default:
		return v
	}
}

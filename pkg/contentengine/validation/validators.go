package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// NamedValidator checks a single value for an ad-hoc field rule.
type NamedValidator func(value interface{}) error

// Registry holds named custom validators usable outside the compiled
// schemas, e.g. for one-off field-level checks configured per
// template.
type Registry struct {
	mu    sync.RWMutex
	named map[string]NamedValidator
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NewRegistry creates a registry preloaded with the built-in
// validators: email, phone, url, slug, uuid, json, future_date,
// past_date, positive, non_negative.
func NewRegistry() *Registry {
	check := validator.New()

	tagRule := func(tag, message string) NamedValidator {
		return func(value interface{}) error {
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("expected a string")
			}
			if err := check.Var(s, tag); err != nil {
				return fmt.Errorf("%s", message)
			}
			return nil
		}
	}

	r := &Registry{named: map[string]NamedValidator{
		"email": tagRule("email", "must be a valid email address"),
		"phone": tagRule("e164", "must be a phone number in E.164 format"),
		"url":   tagRule("url", "must be a valid URL"),
		"uuid":  tagRule("uuid", "must be a valid UUID"),
		"slug": func(value interface{}) error {
			s, ok := value.(string)
			if !ok || !slugPattern.MatchString(s) {
				return fmt.Errorf("must be a lowercase slug")
			}
			return nil
		},
		"json": func(value interface{}) error {
			s, ok := value.(string)
			if !ok || !json.Valid([]byte(s)) {
				return fmt.Errorf("must be valid JSON")
			}
			return nil
		},
		"future_date": dateRule(func(t, now time.Time) bool { return t.After(now) }, "must be in the future"),
		"past_date":   dateRule(func(t, now time.Time) bool { return t.Before(now) }, "must be in the past"),
		"positive": numberRule(func(n float64) bool { return n > 0 }, "must be positive"),
		"non_negative": numberRule(func(n float64) bool { return n >= 0 }, "must not be negative"),
	}}
	return r
}

func dateRule(ok func(t, now time.Time) bool, message string) NamedValidator {
	return func(value interface{}) error {
		s, isString := value.(string)
		if !isString {
			return fmt.Errorf("expected an ISO-8601 timestamp")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			if t, err = time.Parse("2006-01-02", s); err != nil {
				return fmt.Errorf("expected an ISO-8601 timestamp")
			}
		}
		if !ok(t, time.Now().UTC()) {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}

func numberRule(ok func(n float64) bool, message string) NamedValidator {
	return func(value interface{}) error {
		var n float64
		switch v := value.(type) {
		case float64:
			n = v
		case int:
			n = float64(v)
		case int64:
			n = float64(v)
		default:
			return fmt.Errorf("expected a number")
		}
		if !ok(n) {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}

// Register adds or replaces a named validator.
func (r *Registry) Register(name string, fn NamedValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = fn
}

// Check runs the named validator against a value. Unknown names fail.
func (r *Registry) Check(name string, value interface{}) error {
	r.mu.RLock()
	fn, ok := r.named[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown validator %q", name)
	}
	return fn(value)
}

// Names returns the registered validator names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	return names
}

// Package validation compiles resource definitions into reusable
// validators that validate, coerce and strip untyped input on create
// and partial update.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/appforge/content-engine/pkg/contentengine"
)

// UnknownFieldPolicy controls what happens to input fields that are
// not part of the resource schema.
type UnknownFieldPolicy int

const (
	// StripUnknown silently drops unknown fields (default).
	StripUnknown UnknownFieldPolicy = iota
	// RejectUnknown fails validation on unknown fields.
	RejectUnknown
	// AllowUnknown passes unknown fields through untouched.
	AllowUnknown
)

// Engine compiles and caches validators per resource definition. The
// caches are keyed by definition identity, not resource name: one
// engine serves every template, and two templates may both define a
// "products" resource with different attributes. Resolvers memoize
// definitions, so identity is stable across requests. The caches are
// write-once-per-key; a racing rebuild produces the same compiled
// value and is harmless.
type Engine struct {
	unknownFields UnknownFieldPolicy
	coerceTypes   bool
	registry      *Registry

	mu      sync.RWMutex
	full    map[*contentengine.ResourceDefinition]*Schema
	partial map[*contentengine.ResourceDefinition]*Schema
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithUnknownFields sets the unknown-field policy.
func WithUnknownFields(policy UnknownFieldPolicy) EngineOption {
	return func(e *Engine) { e.unknownFields = policy }
}

// WithoutCoercion disables type coercion: values must already carry
// their declared type.
func WithoutCoercion() EngineOption {
	return func(e *Engine) { e.coerceTypes = false }
}

// WithRegistry replaces the named-validator registry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// NewEngine creates a validation engine with coercion enabled and
// unknown fields stripped.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		coerceTypes: true,
		registry:    NewRegistry(),
		full:        make(map[*contentengine.ResourceDefinition]*Schema),
		partial:     make(map[*contentengine.ResourceDefinition]*Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the engine's named-validator registry for ad-hoc
// field checks outside the compiled schemas.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Schema is a compiled validator for one resource, in either full or
// partial mode. Partial mode treats every field as optional and is
// used for updates.
type Schema struct {
	resource string
	partial  bool
	fields   map[string]*fieldRule
}

type fieldRule struct {
	attr contentengine.ResourceAttribute
}

// BuildSchema compiles and caches the full-mode validator for a
// resource. Repeated calls return the cached schema.
func (e *Engine) BuildSchema(def *contentengine.ResourceDefinition) *Schema {
	return e.schemaFor(def, false)
}

func (e *Engine) schemaFor(def *contentengine.ResourceDefinition, partial bool) *Schema {
	cache := e.full
	if partial {
		cache = e.partial
	}

	e.mu.RLock()
	s, ok := cache[def]
	e.mu.RUnlock()
	if ok {
		return s
	}

	s = compile(def, partial)

	e.mu.Lock()
	cache[def] = s
	e.mu.Unlock()
	return s
}

// compile switches exhaustively over the attribute type set; an
// unhandled type is unrepresentable here.
func compile(def *contentengine.ResourceDefinition, partial bool) *Schema {
	s := &Schema{
		resource: def.Name,
		partial:  partial,
		fields:   make(map[string]*fieldRule, len(def.Attributes)),
	}
	for _, attr := range def.Attributes {
		switch attr.Type {
		case contentengine.TypeString, contentengine.TypeNumber, contentengine.TypeBoolean,
			contentengine.TypeList, contentengine.TypeMap, contentengine.TypeBinary:
			s.fields[attr.Name] = &fieldRule{attr: attr}
		}
	}
	return s
}

// Validate checks data against the resource schema without mutating
// the input. A nil return means the data is valid.
func (e *Engine) Validate(def *contentengine.ResourceDefinition, data map[string]interface{}, partial bool) []contentengine.FieldError {
	_, errs := e.ValidateAndTransform(def, data, partial)
	return errs
}

// ValidateAndTransform validates and returns the coerced, stripped
// copy of the input. The input map is never mutated.
func (e *Engine) ValidateAndTransform(def *contentengine.ResourceDefinition, data map[string]interface{}, partial bool) (map[string]interface{}, []contentengine.FieldError) {
	s := e.schemaFor(def, partial)

	out := make(map[string]interface{}, len(data))
	var errs []contentengine.FieldError

	for name, value := range data {
		rule, known := s.fields[name]
		if !known {
			switch e.unknownFields {
			case RejectUnknown:
				errs = append(errs, contentengine.FieldError{
					Field:   name,
					Message: "unknown field",
					Code:    "unknown_field",
				})
			case AllowUnknown:
				out[name] = value
			}
			continue
		}
		coerced, fieldErr := e.checkField(rule.attr, value)
		if fieldErr != nil {
			errs = append(errs, *fieldErr)
			continue
		}
		out[name] = coerced
	}

	if !s.partial {
		for name, rule := range s.fields {
			if _, present := out[name]; present {
				continue
			}
			if rule.attr.Default != nil {
				out[name] = rule.attr.Default
				continue
			}
			if rule.attr.Required {
				errs = append(errs, contentengine.FieldError{
					Field:   name,
					Message: "field is required",
					Code:    "required",
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func (e *Engine) checkField(attr contentengine.ResourceAttribute, value interface{}) (interface{}, *contentengine.FieldError) {
	if value == nil {
		if attr.Required {
			return nil, fieldErr(attr.Name, "field is required", "required")
		}
		return nil, nil
	}

	switch attr.Type {
	case contentengine.TypeString:
		return e.checkString(attr, value)
	case contentengine.TypeNumber:
		return e.checkNumber(attr, value)
	case contentengine.TypeBoolean:
		return e.checkBoolean(attr, value)
	case contentengine.TypeList:
		return e.checkList(attr, value)
	case contentengine.TypeMap:
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, fieldErr(attr.Name, "expected an object", "invalid_type")
	case contentengine.TypeBinary:
		// Opaque passthrough.
		return value, nil
	}
	return nil, fieldErr(attr.Name, fmt.Sprintf("unhandled attribute type %q", attr.Type), "invalid_type")
}

var hexColorPattern = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

func (e *Engine) checkString(attr contentengine.ResourceAttribute, value interface{}) (interface{}, *contentengine.FieldError) {
	s, ok := value.(string)
	if !ok {
		if !e.coerceTypes {
			return nil, fieldErr(attr.Name, "expected a string", "invalid_type")
		}
		switch v := value.(type) {
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			s = strconv.Itoa(v)
		case bool:
			s = strconv.FormatBool(v)
		default:
			return nil, fieldErr(attr.Name, "expected a string", "invalid_type")
		}
	}

	if err := checkLengthBounds(attr, float64(len(s))); err != nil {
		return nil, err
	}

	switch attr.Component {
	case contentengine.ComponentImage:
		if err := e.registry.Check("url", s); err != nil {
			return nil, fieldErr(attr.Name, "must be a valid URL", "invalid_url")
		}
	case contentengine.ComponentColor:
		if !hexColorPattern.MatchString(s) {
			return nil, fieldErr(attr.Name, "must be a hex color like #RRGGBB", "invalid_color")
		}
	case contentengine.ComponentDateTime, contentengine.ComponentDate:
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return nil, fieldErr(attr.Name, "must be an ISO-8601 timestamp", "invalid_datetime")
			}
		}
	case contentengine.ComponentSelect:
		if len(attr.Options) > 0 && !containsOption(attr.Options, s) {
			return nil, fieldErr(attr.Name,
				fmt.Sprintf("must be one of: %s", strings.Join(attr.Options, ", ")), "invalid_option")
		}
	}
	return s, nil
}

func (e *Engine) checkNumber(attr contentengine.ResourceAttribute, value interface{}) (interface{}, *contentengine.FieldError) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fieldErr(attr.Name, "expected a number", "invalid_type")
		}
		n = parsed
	case string:
		if !e.coerceTypes {
			return nil, fieldErr(attr.Name, "expected a number", "invalid_type")
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fieldErr(attr.Name, "expected a number", "invalid_type")
		}
		n = parsed
	default:
		return nil, fieldErr(attr.Name, "expected a number", "invalid_type")
	}

	if attr.Min != nil && n < *attr.Min {
		return nil, fieldErr(attr.Name, fmt.Sprintf("must be at least %v", *attr.Min), "too_small")
	}
	if attr.Max != nil && n > *attr.Max {
		return nil, fieldErr(attr.Name, fmt.Sprintf("must be at most %v", *attr.Max), "too_large")
	}

	if attr.Component == contentengine.ComponentCurrency {
		n = math.Round(n*100) / 100
	}
	return n, nil
}

func (e *Engine) checkBoolean(attr contentengine.ResourceAttribute, value interface{}) (interface{}, *contentengine.FieldError) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if e.coerceTypes {
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case float64:
		if e.coerceTypes {
			return v != 0, nil
		}
	}
	return nil, fieldErr(attr.Name, "expected a boolean", "invalid_type")
}

func (e *Engine) checkList(attr contentengine.ResourceAttribute, value interface{}) (interface{}, *contentengine.FieldError) {
	var elems []interface{}
	switch v := value.(type) {
	case []interface{}:
		elems = v
	case []string:
		elems = make([]interface{}, len(v))
		for i, s := range v {
			elems[i] = s
		}
	default:
		return nil, fieldErr(attr.Name, "expected a list", "invalid_type")
	}

	if err := checkLengthBounds(attr, float64(len(elems))); err != nil {
		return nil, err
	}

	out := make([]interface{}, len(elems))
	for i, elem := range elems {
		s, ok := elem.(string)
		if !ok {
			return nil, fieldErr(attr.Name, "list elements must be strings", "invalid_type")
		}
		if len(attr.Options) > 0 && !containsOption(attr.Options, s) {
			return nil, fieldErr(attr.Name,
				fmt.Sprintf("elements must be one of: %s", strings.Join(attr.Options, ", ")), "invalid_option")
		}
		out[i] = s
	}
	return out, nil
}

func checkLengthBounds(attr contentengine.ResourceAttribute, length float64) *contentengine.FieldError {
	if attr.Min != nil && length < *attr.Min {
		return fieldErr(attr.Name, fmt.Sprintf("length must be at least %v", *attr.Min), "too_short")
	}
	if attr.Max != nil && length > *attr.Max {
		return fieldErr(attr.Name, fmt.Sprintf("length must be at most %v", *attr.Max), "too_long")
	}
	return nil
}

func containsOption(options []string, want string) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}

func fieldErr(field, message, code string) *contentengine.FieldError {
	return &contentengine.FieldError{Field: field, Message: message, Code: code}
}

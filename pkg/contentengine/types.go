package contentengine

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// AttributeType is the closed set of attribute value types. Schema
// compilation switches exhaustively over it, so a new type is a
// compile-time concern everywhere it must be handled.
type AttributeType string

const (
	TypeString  AttributeType = "string"
	TypeNumber  AttributeType = "number"
	TypeBoolean AttributeType = "boolean"
	TypeList    AttributeType = "list"
	TypeMap     AttributeType = "map"
	TypeBinary  AttributeType = "binary"
)

// ParseAttributeType validates a raw type string from a catalog.
func ParseAttributeType(s string) (AttributeType, error) {
	switch t := AttributeType(strings.ToLower(s)); t {
	case TypeString, TypeNumber, TypeBoolean, TypeList, TypeMap, TypeBinary:
		return t, nil
	default:
		return "", fmt.Errorf("unknown attribute type %q", s)
	}
}

// AttributeDefinition is a raw attribute from the static table catalog.
// Min/Max bound numbers, or string/list lengths, when set.
type AttributeDefinition struct {
	Name     string        `json:"name"`
	Type     AttributeType `json:"type"`
	Required bool          `json:"required"`
	Default  interface{}   `json:"default,omitempty"`
	Options  []string      `json:"options,omitempty"`
	Hidden   bool          `json:"hidden,omitempty"`
	Min      *float64      `json:"min,omitempty"`
	Max      *float64      `json:"max,omitempty"`
}

// FieldComponent is the UI component inferred for an attribute.
type FieldComponent string

const (
	ComponentText     FieldComponent = "text"
	ComponentTextarea FieldComponent = "textarea"
	ComponentRichText FieldComponent = "richtext"
	ComponentImage    FieldComponent = "image"
	ComponentDate     FieldComponent = "date"
	ComponentDateTime FieldComponent = "datetime"
	ComponentCurrency FieldComponent = "currency"
	ComponentColor    FieldComponent = "color"
	ComponentSelect   FieldComponent = "select"
	ComponentRelation FieldComponent = "relation"
	ComponentNumber   FieldComponent = "number"
	ComponentCheckbox FieldComponent = "checkbox"
	ComponentTags     FieldComponent = "tags"
	ComponentJSON     FieldComponent = "json"
	ComponentFile     FieldComponent = "file"
)

// FieldMeta is the inferred UI/query metadata for an attribute.
type FieldMeta struct {
	Component  FieldComponent `json:"component"`
	ShowInList bool           `json:"show_in_list"`
	Sortable   bool           `json:"sortable"`
	Filterable bool           `json:"filterable"`
	Searchable bool           `json:"searchable"`
	Relation   string         `json:"relation,omitempty"` // target resource name
}

// ResourceAttribute pairs a raw attribute with its inferred metadata.
type ResourceAttribute struct {
	AttributeDefinition
	FieldMeta
}

// Capabilities flags which operations a resource supports.
type Capabilities struct {
	CanCreate bool `json:"can_create"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
	CanExport bool `json:"can_export"`
	CanImport bool `json:"can_import"`
}

// ResourceDefinition is a named, schema-defined collection of content
// items. Definitions are built once per template and cached; they are
// immutable after construction.
type ResourceDefinition struct {
	Name          string              `json:"name"` // plural, unique per template
	SingularName  string              `json:"singular_name"`
	Attributes    []ResourceAttribute `json:"attributes"`
	TitleField    string              `json:"title_field"`
	SubtitleField string              `json:"subtitle_field,omitempty"`
	ImageField    string              `json:"image_field,omitempty"`
	DefaultSort   string              `json:"default_sort,omitempty"`
	DefaultDesc   bool                `json:"default_desc,omitempty"`
	Capabilities  Capabilities        `json:"capabilities"`
	Category      string              `json:"category,omitempty"`
	Priority      int                 `json:"priority"`
}

// Attribute looks up an attribute by name.
func (d *ResourceDefinition) Attribute(name string) (*ResourceAttribute, bool) {
	for i := range d.Attributes {
		if d.Attributes[i].Name == name {
			return &d.Attributes[i], true
		}
	}
	return nil, false
}

// SearchableFields returns the names of all searchable attributes.
func (d *ResourceDefinition) SearchableFields() []string {
	var fields []string
	for _, a := range d.Attributes {
		if a.Searchable {
			fields = append(fields, a.Name)
		}
	}
	return fields
}

// ContentManagementConfig is the full resolved resource set for one
// template.
type ContentManagementConfig struct {
	TemplateID string               `json:"template_id"`
	Resources  []ResourceDefinition `json:"resources"`
}

// Resource looks up a resource definition by plural name.
func (c *ContentManagementConfig) Resource(name string) (*ResourceDefinition, bool) {
	for i := range c.Resources {
		if c.Resources[i].Name == name {
			return &c.Resources[i], true
		}
	}
	return nil, false
}

// Item is a stored content item: its id plus attribute values, with
// the reserved key and timestamp fields below.
type Item map[string]interface{}

// Reserved item field names.
const (
	FieldPK        = "pk"
	FieldSK        = "sk"
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
)

// SortKeyMeta is the fixed sort-key sentinel for item records, so an
// item's attributes and future nested records can share a partition.
const SortKeyMeta = "META"

// Clone returns a shallow copy of the item.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// ID returns the item's id, if present.
func (it Item) ID() string {
	id, _ := it[FieldID].(string)
	return id
}

// Deleted reports whether the item carries the soft-delete marker.
func (it Item) Deleted() bool {
	v, ok := it[FieldDeletedAt]
	return ok && v != nil
}

// CompositeKey is the single place a storage key is derived from a
// resource and item id, so creation and lookup can never drift apart.
type CompositeKey struct {
	ResourceSingular string
	ID               string
	SortKey          string
}

// NewCompositeKey derives the key for an item of the given resource.
// The partition key is the upper-cased singular resource name joined
// with the item id; the sort key is the fixed META sentinel.
func NewCompositeKey(resource, id string) CompositeKey {
	return CompositeKey{
		ResourceSingular: strings.ToUpper(inflection.Singular(resource)),
		ID:               id,
		SortKey:          SortKeyMeta,
	}
}

// PartitionKey renders the partition key value.
func (k CompositeKey) PartitionKey() string {
	return k.ResourceSingular + "#" + k.ID
}

// ResourcePrefix is the partition-key prefix shared by every item of a
// resource ("PRODUCT#"). Scans use it to keep one resource's items
// from leaking into another's results.
func ResourcePrefix(resource string) string {
	return NewCompositeKey(resource, "").PartitionKey()
}

// Map renders the key as stored attributes.
func (k CompositeKey) Map() map[string]interface{} {
	return map[string]interface{}{
		FieldPK: k.PartitionKey(),
		FieldSK: k.SortKey,
	}
}

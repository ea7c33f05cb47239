// Package schema resolves a static table catalog into the resource
// definitions the content engine works with, inferring UI components,
// list/query metadata and relations from attribute names and types.
package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"

	"github.com/appforge/content-engine/pkg/contentengine"
)

// Table is one table of the static catalog.
type Table struct {
	Name       string                              `json:"name"`
	Attributes []contentengine.AttributeDefinition `json:"attributes"`
}

// Catalog maps template ids to their tables. The catalog is immutable;
// resolution results are memoized per template for the resolver's
// lifetime.
type Catalog struct {
	Templates map[string][]Table
}

// Resolver turns catalog entries into ContentManagementConfigs. The
// memo cache is owned by the resolver instance, so tests can construct
// isolated resolvers; a racing rebuild produces the same value and is
// harmless.
type Resolver struct {
	catalog Catalog

	mu    sync.RWMutex
	cache map[string]*contentengine.ContentManagementConfig
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{
		catalog: catalog,
		cache:   make(map[string]*contentengine.ContentManagementConfig),
	}
}

// ResolveTemplate resolves a template's content-management config.
// Resolution fails soft: an unknown template yields an empty-resource
// config, never an error, since dashboards must render even for
// templates without a backend schema.
func (r *Resolver) ResolveTemplate(templateID string) *contentengine.ContentManagementConfig {
	r.mu.RLock()
	if cfg, ok := r.cache[templateID]; ok {
		r.mu.RUnlock()
		return cfg
	}
	r.mu.RUnlock()

	cfg := r.resolve(templateID)

	r.mu.Lock()
	r.cache[templateID] = cfg
	r.mu.Unlock()
	return cfg
}

func (r *Resolver) resolve(templateID string) *contentengine.ContentManagementConfig {
	tables := r.catalog.Templates[templateID]
	cfg := &contentengine.ContentManagementConfig{TemplateID: templateID}

	for _, table := range tables {
		cfg.Resources = append(cfg.Resources, buildResource(table, tables))
	}
	sortResources(cfg.Resources)
	return cfg
}

func buildResource(table Table, siblings []Table) contentengine.ResourceDefinition {
	def := contentengine.ResourceDefinition{
		Name:         table.Name,
		SingularName: inflection.Singular(table.Name),
		Category:     categoryFor(table.Name),
		Priority:     displayPriority(table.Name),
		Capabilities: contentengine.Capabilities{
			CanCreate: true,
			CanUpdate: true,
			CanDelete: true,
			CanExport: true,
			CanImport: true,
		},
	}

	listed := 0
	for _, attr := range table.Attributes {
		// Key attributes are storage plumbing, not content fields.
		if attr.Name == contentengine.FieldPK || attr.Name == contentengine.FieldSK {
			continue
		}
		meta := inferMeta(attr, table, siblings)
		if meta.ShowInList {
			if listed >= 6 {
				meta.ShowInList = false
			} else {
				listed++
			}
		}
		def.Attributes = append(def.Attributes, contentengine.ResourceAttribute{
			AttributeDefinition: attr,
			FieldMeta:           meta,
		})
	}

	def.TitleField = pickTitleField(def.Attributes)
	def.SubtitleField = pickByComponent(def.Attributes, def.TitleField,
		contentengine.ComponentTextarea, contentengine.ComponentText)
	def.ImageField = pickImageField(def.Attributes)
	def.DefaultSort = contentengine.FieldCreatedAt
	def.DefaultDesc = true
	return def
}

// inferMeta derives UI and query metadata for one attribute. Component
// matching is ordered, most specific first.
func inferMeta(attr contentengine.AttributeDefinition, table Table, siblings []Table) contentengine.FieldMeta {
	meta := contentengine.FieldMeta{
		Component:  componentFor(attr, table, siblings),
		ShowInList: !attr.Hidden && !isInternalField(attr.Name) && !isTimestampField(attr.Name),
	}
	if rel := relationTarget(attr, table, siblings); rel != "" {
		meta.Relation = rel
	}
	switch attr.Type {
	case contentengine.TypeString:
		meta.Sortable = true
		meta.Filterable = true
		meta.Searchable = true
	case contentengine.TypeNumber, contentengine.TypeBoolean:
		meta.Sortable = true
		meta.Filterable = true
	case contentengine.TypeList, contentengine.TypeMap, contentengine.TypeBinary:
		// Opaque to sorting and filtering.
	}
	return meta
}

func componentFor(attr contentengine.AttributeDefinition, table Table, siblings []Table) contentengine.FieldComponent {
	name := strings.ToLower(attr.Name)

	switch attr.Type {
	case contentengine.TypeString:
		switch {
		case matchesAny(name, "image", "photo", "picture", "avatar", "logo", "icon", "thumbnail"):
			return contentengine.ComponentImage
		case matchesAny(name, "body", "content", "html"):
			return contentengine.ComponentRichText
		case matchesAny(name, "description", "notes", "bio", "summary", "about", "text"):
			return contentengine.ComponentTextarea
		case strings.HasSuffix(attr.Name, "At") || strings.HasSuffix(name, "datetime") || strings.HasSuffix(name, "time"):
			return contentengine.ComponentDateTime
		case strings.HasSuffix(name, "date") || name == "birthday":
			return contentengine.ComponentDate
		case matchesAny(name, "color", "colour"):
			return contentengine.ComponentColor
		case relationTarget(attr, table, siblings) != "":
			return contentengine.ComponentRelation
		case len(attr.Options) > 0 || matchesAny(name, "status", "type", "category", "state"):
			return contentengine.ComponentSelect
		default:
			return contentengine.ComponentText
		}
	case contentengine.TypeNumber:
		if matchesAny(name, "price", "cost", "amount", "fee", "total", "salary") {
			return contentengine.ComponentCurrency
		}
		return contentengine.ComponentNumber
	case contentengine.TypeBoolean:
		return contentengine.ComponentCheckbox
	case contentengine.TypeList:
		if len(attr.Options) > 0 {
			return contentengine.ComponentSelect
		}
		return contentengine.ComponentTags
	case contentengine.TypeMap:
		return contentengine.ComponentJSON
	case contentengine.TypeBinary:
		return contentengine.ComponentFile
	}
	return contentengine.ComponentText
}

// relationTarget matches foreign-key-shaped fields ("authorId") against
// the template's other tables by singular name.
func relationTarget(attr contentengine.AttributeDefinition, table Table, siblings []Table) string {
	if attr.Type != contentengine.TypeString || !strings.HasSuffix(attr.Name, "Id") || len(attr.Name) <= 2 {
		return ""
	}
	stem := strings.ToLower(strings.TrimSuffix(attr.Name, "Id"))
	for _, sibling := range siblings {
		if sibling.Name == table.Name {
			continue
		}
		if strings.ToLower(inflection.Singular(sibling.Name)) == stem {
			return sibling.Name
		}
	}
	return ""
}

func matchesAny(name string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func isInternalField(name string) bool {
	switch name {
	case contentengine.FieldID, contentengine.FieldPK, contentengine.FieldSK:
		return true
	}
	return false
}

func isTimestampField(name string) bool {
	switch name {
	case contentengine.FieldCreatedAt, contentengine.FieldUpdatedAt, contentengine.FieldDeletedAt:
		return true
	}
	return strings.HasSuffix(name, "At")
}

// pickTitleField chooses by priority: explicit name > title > first
// attribute.
func pickTitleField(attrs []contentengine.ResourceAttribute) string {
	for _, want := range []string{"name", "title"} {
		for _, a := range attrs {
			if strings.ToLower(a.Name) == want {
				return a.Name
			}
		}
	}
	if len(attrs) > 0 {
		return attrs[0].Name
	}
	return ""
}

func pickByComponent(attrs []contentengine.ResourceAttribute, exclude string, components ...contentengine.FieldComponent) string {
	for _, c := range components {
		for _, a := range attrs {
			if a.Name != exclude && a.Component == c {
				return a.Name
			}
		}
	}
	return ""
}

func pickImageField(attrs []contentengine.ResourceAttribute) string {
	for _, a := range attrs {
		if a.Component == contentengine.ComponentImage {
			return a.Name
		}
	}
	return ""
}

// displayPriority orders resources for dashboards: commerce-like
// resources first, users last, everything else in between.
var displayPriorities = map[string]int{
	"products":   10,
	"orders":     20,
	"customers":  30,
	"categories": 40,
	"articles":   50,
	"posts":      50,
	"pages":      60,
	"reviews":    70,
	"users":      100,
}

const defaultDisplayPriority = 80

func displayPriority(name string) int {
	if p, ok := displayPriorities[strings.ToLower(name)]; ok {
		return p
	}
	return defaultDisplayPriority
}

func categoryFor(name string) string {
	switch strings.ToLower(name) {
	case "products", "orders", "customers", "categories", "reviews":
		return "commerce"
	case "articles", "posts", "pages":
		return "content"
	case "users":
		return "people"
	default:
		return "general"
	}
}

func sortResources(resources []contentengine.ResourceDefinition) {
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].Priority != resources[j].Priority {
			return resources[i].Priority < resources[j].Priority
		}
		return resources[i].Name < resources[j].Name
	})
}

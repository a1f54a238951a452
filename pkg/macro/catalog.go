// Package macro holds the macro catalog and the worker pool that plays
// macros through an input injector
package macro

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed catalog.json
var defaultCatalogJSON []byte

//go:embed catalog.schema.json
var catalogSchemaJSON []byte

const schemaURL = "catalog.schema.json"

// ErrUnknownMacro is returned for ids that are not in the catalog
var ErrUnknownMacro = errors.New("unknown macro")

// Kind selects how a macro is played
type Kind string

const (
	KindHotkey      Kind = "hotkey"
	KindMedia       Kind = "media"
	KindMouseScroll Kind = "mouse_scroll"
)

// Definition is one catalog entry
type Definition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"-"`
	Kind     Kind     `json:"type,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Key      string   `json:"key,omitempty"`
	DY       int      `json:"dy,omitempty"`
}

// Describe returns a short human readable form of what the macro does
func (d Definition) Describe() string {
	switch d.Kind {
	case KindMedia:
		return "media " + d.Key
	case KindMouseScroll:
		return fmt.Sprintf("scroll %+d", d.DY)
	default:
		return strings.Join(d.Keys, "+")
	}
}

// Category is a named, ordered group of macros
type Category struct {
	Name   string       `json:"name"`
	Macros []Definition `json:"macros"`
}

type catalogFile struct {
	Categories []Category `json:"categories"`
}

// Catalog is the read-only macro table, grouped by category and indexed by id
type Catalog struct {
	categories []Category
	index      map[string]Definition
}

// NewCatalog builds a catalog. Ids are trimmed; duplicates are rejected.
func NewCatalog(categories []Category) (*Catalog, error) {
	c := &Catalog{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]Definition),
	}

	for _, cat := range categories {
		out := Category{Name: cat.Name, Macros: make([]Definition, 0, len(cat.Macros))}
		for _, def := range cat.Macros {
			def.ID = strings.TrimSpace(def.ID)
			if def.ID == "" {
				return nil, fmt.Errorf("macro %q in category %q has no id", def.Name, cat.Name)
			}
			if prev, ok := c.index[def.ID]; ok {
				return nil, fmt.Errorf("duplicate macro id %q in categories %q and %q", def.ID, prev.Category, cat.Name)
			}
			if def.Kind == "" {
				def.Kind = KindHotkey
			}
			def.Category = cat.Name
			c.index[def.ID] = def
			out.Macros = append(out.Macros, def)
		}
		c.categories = append(c.categories, out)
	}

	return c, nil
}

// DefaultCatalog returns the built-in macro library
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogJSON)
	if err != nil {
		panic(fmt.Sprintf("built-in macro catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog validates data against the catalog schema and builds a catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("catalog does not match schema: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	return NewCatalog(file.Categories)
}

// LoadCatalog reads a catalog file. An empty path returns the built-in
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add catalog schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile catalog schema: %w", err)
	}
	return schema, nil
}

// Lookup returns the macro with the given id
func (c *Catalog) Lookup(id string) (Definition, bool) {
	def, ok := c.index[strings.TrimSpace(id)]
	return def, ok
}

// Categories returns the categories in catalog order
func (c *Catalog) Categories() []Category {
	return c.categories
}

// IDs returns every macro id, sorted
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.index))
	for id := range c.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of macros
func (c *Catalog) Len() int {
	return len(c.index)
}

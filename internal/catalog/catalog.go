// Package catalog holds the read-only category tree: categories, their
// subcategories, and the attribute names expected for each subcategory.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_categories.json
var defaultDefinitions []byte

// Subcategory is a leaf of the tree with its expected attribute names.
type Subcategory struct {
	Name       string   `json:"name" yaml:"name" validate:"required"`
	Attributes []string `json:"attributes" yaml:"attributes" validate:"dive,required"`
}

// Category groups subcategories.
type Category struct {
	Name          string        `json:"category" yaml:"category" validate:"required"`
	Subcategories []Subcategory `json:"subcategories" yaml:"subcategories" validate:"dive"`
}

type definitions struct {
	Categories []Category `json:"shop_categories" yaml:"shop_categories" validate:"dive"`
}

// ConfigError reports a missing or malformed definitions file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("category definitions: %v", e.Err)
	}
	return fmt.Sprintf("category definitions %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Catalog is an immutable, case-insensitive index over categories.
type Catalog struct {
	categories []Category
	index      map[string]int
}

var validate = validator.New()

// Load reads definitions from path (JSON, or YAML for .yaml/.yml). It always
// returns a usable catalog: on failure the catalog is empty and the error is a
// *ConfigError the caller is expected to log.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return empty(), &ConfigError{Path: path, Err: err}
	}
	c, err := parse(data, filepath.Ext(path))
	if err != nil {
		return empty(), &ConfigError{Path: path, Err: err}
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultDefinitions, ".json")
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in definitions invalid: %v", err))
	}
	return c
}

// DefaultDefinitions returns the raw built-in definitions document.
func DefaultDefinitions() []byte {
	out := make([]byte, len(defaultDefinitions))
	copy(out, defaultDefinitions)
	return out
}

// New builds a catalog from categories, validating them.
func New(categories []Category) (*Catalog, error) {
	defs := definitions{Categories: categories}
	if err := check(defs); err != nil {
		return empty(), &ConfigError{Err: err}
	}
	return build(defs.Categories), nil
}

func parse(data []byte, ext string) (*Catalog, error) {
	var defs definitions
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	}
	if err := check(defs); err != nil {
		return nil, err
	}
	return build(defs.Categories), nil
}

func check(defs definitions) error {
	if err := validate.Struct(defs); err != nil {
		return fmt.Errorf("invalid definitions: %w", err)
	}
	seen := make(map[string]bool, len(defs.Categories))
	for _, c := range defs.Categories {
		key := fold(c.Name)
		if seen[key] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[key] = true

		subs := make(map[string]bool, len(c.Subcategories))
		for _, s := range c.Subcategories {
			sk := fold(s.Name)
			if subs[sk] {
				return fmt.Errorf("duplicate subcategory %q in %q", s.Name, c.Name)
			}
			subs[sk] = true
		}
	}
	return nil
}

func build(categories []Category) *Catalog {
	c := &Catalog{
		categories: make([]Category, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for i, cat := range categories {
		cp := clone(cat)
		cp.Name = strings.TrimSpace(cp.Name)
		for j := range cp.Subcategories {
			cp.Subcategories[j].Name = strings.TrimSpace(cp.Subcategories[j].Name)
		}
		c.categories[i] = cp
		c.index[fold(cp.Name)] = i
	}
	return c
}

// clone deep-copies a category so callers never share the catalog's slices.
func clone(cat Category) Category {
	cp := Category{Name: cat.Name, Subcategories: make([]Subcategory, len(cat.Subcategories))}
	for j, s := range cat.Subcategories {
		cp.Subcategories[j] = Subcategory{
			Name:       s.Name,
			Attributes: append([]string(nil), s.Attributes...),
		}
	}
	return cp
}

func empty() *Catalog {
	return &Catalog{index: map[string]int{}}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Empty reports whether the catalog has no categories.
func (c *Catalog) Empty() bool {
	return len(c.categories) == 0
}

// Categories returns the categories in definition order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		out[i] = clone(cat)
	}
	return out
}

// FindCategory looks up a category by name.
func (c *Catalog) FindCategory(name string) (Category, bool) {
	i, ok := c.index[fold(name)]
	if !ok {
		return Category{}, false
	}
	return clone(c.categories[i]), true
}

// FindSubcategory looks up a subcategory within a category. It reports false
// when either name is unknown.
func (c *Catalog) FindSubcategory(category, subcategory string) (Subcategory, bool) {
	cat, ok := c.FindCategory(category)
	if !ok {
		return Subcategory{}, false
	}
	key := fold(subcategory)
	for _, s := range cat.Subcategories {
		if fold(s.Name) == key {
			return s, true
		}
	}
	return Subcategory{}, false
}

// ExpectedAttributes returns the attribute names for a subcategory, or nil.
func (c *Catalog) ExpectedAttributes(category, subcategory string) []string {
	s, ok := c.FindSubcategory(category, subcategory)
	if !ok {
		return nil
	}
	return append([]string(nil), s.Attributes...)
}

// IsConfigError reports whether err came from loading definitions.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

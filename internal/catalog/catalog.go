// Package catalog holds the static registry of tool definitions. A Catalog
// is immutable after construction; reloading means building a new one, so a
// concurrent classification call never observes a half-updated registry.
package catalog

import (
	"net/url"

	"github.com/rendis/cortex/pkg/schema"
)

// ToolParameters declares a tool's required and optional parameter names.
type ToolParameters struct {
	Required []string `yaml:"required" json:"required"`
	Optional []string `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// ToolExample is a few-shot example prompt for the classifier.
type ToolExample struct {
	Prompt    string `yaml:"prompt" json:"prompt"`
	Reasoning string `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
}

// ToolDefinition is one catalog entry. Immutable after load.
type ToolDefinition struct {
	Name         schema.ToolName `yaml:"name" json:"name"`
	Description  string          `yaml:"description" json:"description"`
	Endpoint     string          `yaml:"endpoint" json:"endpoint"`
	Capabilities []string        `yaml:"capabilities" json:"capabilities"`
	Parameters   ToolParameters  `yaml:"parameters" json:"parameters"`
	Examples     []ToolExample   `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// Catalog is the read-only tool registry.
type Catalog struct {
	tools  []ToolDefinition
	byName map[schema.ToolName]ToolDefinition
}

// New builds a Catalog from definitions. Construction fails fast with a
// CONFIG_ERROR on duplicate names, missing required fields, or malformed
// parameter lists.
func New(defs []ToolDefinition) (*Catalog, error) {
	c := &Catalog{
		tools:  make([]ToolDefinition, 0, len(defs)),
		byName: make(map[schema.ToolName]ToolDefinition, len(defs)),
	}
	for _, def := range defs {
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		if _, exists := c.byName[def.Name]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"duplicate tool %q in catalog", def.Name)
		}
		c.byName[def.Name] = def
		c.tools = append(c.tools, def)
	}
	return c, nil
}

// Lookup returns the definition for a tool name, or a NOT_FOUND error.
// Sentinel names never resolve.
func (c *Catalog) Lookup(name schema.ToolName) (ToolDefinition, error) {
	def, ok := c.byName[name]
	if !ok {
		return ToolDefinition{}, schema.NewErrorf(schema.ErrCodeNotFound,
			"tool %q not in catalog", name)
	}
	return def, nil
}

// Has reports whether a tool is registered.
func (c *Catalog) Has(name schema.ToolName) bool {
	_, ok := c.byName[name]
	return ok
}

// All returns the definitions in load order. The slice is a copy.
func (c *Catalog) All() []ToolDefinition {
	out := make([]ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int { return len(c.tools) }

func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeConfig, "tool definition missing name")
	}
	if def.Name.IsSentinel() {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"tool name %q collides with a classifier sentinel", def.Name)
	}
	if def.Description == "" {
		return schema.NewErrorf(schema.ErrCodeConfig, "tool %q missing description", def.Name)
	}
	if def.Endpoint == "" {
		return schema.NewErrorf(schema.ErrCodeConfig, "tool %q missing endpoint", def.Name)
	}
	u, err := url.ParseRequestURI(def.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"tool %q has invalid endpoint %q", def.Name, def.Endpoint)
	}
	seen := make(map[string]struct{}, len(def.Parameters.Required)+len(def.Parameters.Optional))
	for _, p := range append(append([]string{}, def.Parameters.Required...), def.Parameters.Optional...) {
		if p == "" {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"tool %q has an empty parameter name", def.Name)
		}
		if _, dup := seen[p]; dup {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"tool %q declares parameter %q twice", def.Name, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

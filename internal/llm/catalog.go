// Package llm talks to the Anthropic API and streams completions as
// framed records.
package llm

// ModelSpec describes one selectable model.
type ModelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Thinking    bool   `json:"thinking"`
}

// Catalog is the set of models the server offers.
type Catalog struct {
	Default string
	Options []ModelSpec
}

// NewCatalog builds a catalog. The first option is the default.
func NewCatalog(options ...ModelSpec) *Catalog {
	c := &Catalog{Options: options}
	if len(options) > 0 {
		c.Default = options[0].Name
	}
	return c
}

// Lookup returns the spec for a model name, or false when the model
// is not offered.
func (c *Catalog) Lookup(name string) (ModelSpec, bool) {
	for _, opt := range c.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return ModelSpec{}, false
}

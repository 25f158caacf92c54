package condition

// Context is the minimal view of a user a leaf matcher needs: its
// attributes and, for the "qualified" matcher, its ODP segments. A
// single interface kept here (rather than importing the entities
// package) avoids a cyclic import between condition and entities.
type Context interface {
	Attribute(name string) (value interface{}, present bool)
	QualifiedSegments() []string
}

// MapContext is a simple Context backed by a plain attribute map, used
// by tests and by callers that don't otherwise have a UserContext.
type MapContext struct {
	Attributes map[string]interface{}
	Segments   []string
}

func (c MapContext) Attribute(name string) (interface{}, bool) {
	v, ok := c.Attributes[name]
	return v, ok
}

func (c MapContext) QualifiedSegments() []string {
	return c.Segments
}

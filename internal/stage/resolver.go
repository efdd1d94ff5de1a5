package stage

// Strategy looks up one field in a document. It returns the raw value and
// whether the field was found.
type Strategy func(doc *Document, namespace, field string) (string, bool)

// Resolver locates response fields by trying its strategies in order;
// the first hit wins.
type Resolver struct {
	strategies []Strategy
}

// NewResolver creates a resolver from an ordered list of strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// DefaultResolver tries the namespace-qualified name, then the local name.
func DefaultResolver() *Resolver {
	return NewResolver(QualifiedName, LocalName)
}

// Resolve returns the value of field, or false if no strategy found it.
func (r *Resolver) Resolve(doc *Document, namespace, field string) (string, bool) {
	if doc == nil {
		return "", false
	}
	for _, s := range r.strategies {
		if v, ok := s(doc, namespace, field); ok {
			return v, true
		}
	}
	return "", false
}

// QualifiedName matches a leaf declared in the expected namespace.
func QualifiedName(doc *Document, namespace, field string) (string, bool) {
	if namespace == "" {
		return "", false
	}
	for _, l := range doc.Leaves {
		if !l.Nil && l.Space == namespace && l.Local == field {
			return l.Value, true
		}
	}
	return "", false
}

// LocalName matches a leaf by name in any namespace. Stages have been seen to
// declare a different namespace between versions.
func LocalName(doc *Document, _ string, field string) (string, bool) {
	for _, l := range doc.Leaves {
		if !l.Nil && l.Local == field {
			return l.Value, true
		}
	}
	return "", false
}

package domain

// FeatureVector is a fixed-length ordered encoding of an aggregate, consumed
// by the inference tiers. Length and field order are constant for a given
// entity type and schema version: changing either requires a version bump
// honored by every provider.
type FeatureVector struct {
	EntityType    EntityType `json:"entityType"`
	SchemaVersion string     `json:"schemaVersion"`
	Names         []string   `json:"names"`
	Values        []float64  `json:"values"`
}

// Get returns the value for a named feature, or 0 if the name is not in the
// schema. Used by the fallback tier's rule activation.
func (f *FeatureVector) Get(name string) float64 {
	for i, n := range f.Names {
		if n == name {
			return f.Values[i]
		}
	}
	return 0
}

// Map returns the vector as a name-to-value mapping.
func (f *FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(f.Names))
	for i, n := range f.Names {
		m[n] = f.Values[i]
	}
	return m
}

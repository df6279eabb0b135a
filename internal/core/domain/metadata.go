package domain

// Metadata is free-form annotation attached to studies and trials,
// grouped by namespace so independent writers do not collide. The
// empty namespace is reserved for clients; policies write under their
// own names.
type Metadata map[string]map[string]string

// Get returns the value stored under (ns, key).
func (m Metadata) Get(ns, key string) (string, bool) {
	kv, ok := m[ns]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// Set stores value under (ns, key) on a possibly-nil map and returns
// the map to assign back.
func (m Metadata) Set(ns, key, value string) Metadata {
	if m == nil {
		m = make(Metadata)
	}
	if m[ns] == nil {
		m[ns] = make(map[string]string)
	}
	m[ns][key] = value
	return m
}

// Merge overlays other onto m, namespace by namespace, and returns the
// result. Existing keys are overwritten; m may be nil.
func (m Metadata) Merge(other Metadata) Metadata {
	for ns, kv := range other {
		for k, v := range kv {
			m = m.Set(ns, k, v)
		}
	}
	return m
}

// Clone deep-copies the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for ns, kv := range m {
		cp := make(map[string]string, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[ns] = cp
	}
	return out
}

// MetadataDelta is a batch of metadata writes a policy hands back
// alongside its decisions. OnTrials is keyed by trial ID.
type MetadataDelta struct {
	OnStudy  Metadata           `json:"on_study,omitempty"`
	OnTrials map[int64]Metadata `json:"on_trials,omitempty"`
}

// Empty reports whether the delta carries no writes.
func (d MetadataDelta) Empty() bool {
	return len(d.OnStudy) == 0 && len(d.OnTrials) == 0
}

package core

import (
	"slices"
	"sort"
)

// HeaderMapping maps each canonical column to a source column index.
type HeaderMapping map[string]int

// Names returns, per canonical column, the source header label it resolved to.
func (m HeaderMapping) Names(header []string) map[string]string {
	out := make(map[string]string, len(m))
	for col, idx := range m {
		if idx >= 0 && idx < len(header) {
			out[col] = header[idx]
		}
	}
	return out
}

// BuildAliasMap indexes header labels by slug. When two labels share a slug
// the later one wins.
func BuildAliasMap(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[Slug(h)] = i
	}
	return m
}

// ApplyUserOverrides resolves caller overrides of the form canonical -> label.
// A label matches a header entry exactly first, then by slug. Unknown
// canonical names and labels absent from the header fail with *MappingError.
func (c *Catalog) ApplyUserOverrides(header []string, overrides map[string]string) (HeaderMapping, error) {
	out := make(HeaderMapping, len(overrides))
	if len(overrides) == 0 {
		return out, nil
	}
	bySlug := BuildAliasMap(header)

	// Sorted for a deterministic first error.
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, col := range keys {
		provided := overrides[col]
		if !c.Has(col) {
			return nil, &MappingError{Canonical: col, Provided: provided, Reason: reasonNotStagingColumn}
		}
		if idx := slices.Index(header, provided); idx >= 0 {
			out[col] = idx
			continue
		}
		idx, ok := bySlug[Slug(provided)]
		if !ok {
			return nil, &MappingError{Canonical: col, Provided: provided, Reason: reasonNotInHeader}
		}
		out[col] = idx
	}
	return out, nil
}

// ResolveHeader maps every canonical column to a source column. Overrides
// take precedence over aliases. The first alias (in priority order) present
// in the header wins. A header missing any column fails with a FormatError
// wrapping *MissingColumnsError.
func (c *Catalog) ResolveHeader(header []string, overrides map[string]string) (HeaderMapping, error) {
	mapping, err := c.ApplyUserOverrides(header, overrides)
	if err != nil {
		return nil, err
	}

	bySlug := BuildAliasMap(header)
	var missing []string
	for _, col := range c.columns {
		if _, ok := mapping[col]; ok {
			continue
		}
		found := false
		for _, alias := range c.aliases[col] {
			if idx, ok := bySlug[Slug(alias)]; ok {
				mapping[col] = idx
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return nil, newMissingColumnsError(missing, header)
	}
	return mapping, nil
}

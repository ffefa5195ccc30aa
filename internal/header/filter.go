package header

import "strings"

// FilterList is a case-insensitive set of header names that either lists
// what is included or, after Add("*"), lists what is excluded.
type FilterList struct {
	all      bool
	included map[string]bool
	excluded map[string]bool
}

// NewFilterList creates an empty list that contains nothing.
func NewFilterList() *FilterList {
	return &FilterList{included: map[string]bool{}, excluded: map[string]bool{}}
}

// Add includes names. "*" includes everything and resets the exceptions.
func (f *FilterList) Add(names ...string) {
	for _, n := range names {
		if n == "*" {
			f.all = true
			clear(f.included)
			clear(f.excluded)
			continue
		}
		k := strings.ToLower(n)
		if f.all {
			delete(f.excluded, k)
		} else {
			f.included[k] = true
		}
	}
}

// Remove excludes names. "*" excludes everything and resets the exceptions.
func (f *FilterList) Remove(names ...string) {
	for _, n := range names {
		if n == "*" {
			f.all = false
			clear(f.included)
			clear(f.excluded)
			continue
		}
		k := strings.ToLower(n)
		if f.all {
			f.excluded[k] = true
		} else {
			delete(f.included, k)
		}
	}
}

// Contains reports whether name passes the filter.
func (f *FilterList) Contains(name string) bool {
	k := strings.ToLower(name)
	if f.all {
		return !f.excluded[k]
	}
	return f.included[k]
}

package model

import (
	"encoding/json"
	"sort"
)

// DateSet holds unique YYYY-MM-DD strings. It is stored as a JSON array in
// ascending order.
type DateSet map[string]struct{}

// NewDateSet builds a set from dates, dropping duplicates.
func NewDateSet(dates ...string) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

// Has is safe on a nil set.
func (s DateSet) Has(date string) bool {
	_, ok := s[date]
	return ok
}

// Add inserts date and reports whether the set changed.
func (s *DateSet) Add(date string) bool {
	if *s == nil {
		*s = make(DateSet)
	}
	if _, ok := (*s)[date]; ok {
		return false
	}
	(*s)[date] = struct{}{}
	return true
}

// Sorted returns the members in ascending order.
func (s DateSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s DateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *DateSet) UnmarshalJSON(data []byte) error {
	var dates []string
	if err := json.Unmarshal(data, &dates); err != nil {
		return err
	}
	if dates == nil {
		*s = nil
		return nil
	}
	*s = NewDateSet(dates...)
	return nil
}

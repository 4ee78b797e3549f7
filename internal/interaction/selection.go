package interaction

import "sort"

// Selection is the multi-select overlay on a message list. It is active
// while at least one message is selected.
type Selection struct {
	ids map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

func (s *Selection) Active() bool {
	return len(s.ids) > 0
}

// Toggle flips membership and reports whether id is now selected. Removing
// the last id ends selection mode.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Selection) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Count() int {
	return len(s.ids)
}

// IDs returns the selected ids sorted
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Remove drops ids that no longer exist, such as deleted messages
func (s *Selection) Remove(ids ...string) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *Selection) Clear() {
	s.ids = make(map[string]struct{})
}

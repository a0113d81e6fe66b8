package morktest

import (
	"sort"
	"strings"
	"sync"
)

// factSet keeps facts unique in insertion order.
type factSet struct {
	order []string
	index map[string]expr
}

func newFactSet() *factSet {
	return &factSet{index: make(map[string]expr)}
}

func (f *factSet) add(e expr) {
	key := e.String()
	if _, ok := f.index[key]; ok {
		return
	}
	f.index[key] = e
	f.order = append(f.order, key)
}

func (f *factSet) remove(key string) {
	if _, ok := f.index[key]; !ok {
		return
	}
	delete(f.index, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			return
		}
	}
}

func (f *factSet) list() []expr {
	out := make([]expr, len(f.order))
	for i, k := range f.order {
		out[i] = f.index[k]
	}
	return out
}

// store maps namespace keys to isolated fact sets.
type store struct {
	mu         sync.RWMutex
	namespaces map[string]*factSet
}

func newStore() *store {
	return &store{namespaces: make(map[string]*factSet)}
}

func nsKey(segments []string) string {
	return strings.Join(segments, "/")
}

func (s *store) set(ns string) *factSet {
	set, ok := s.namespaces[ns]
	if !ok {
		set = newFactSet()
		s.namespaces[ns] = set
	}
	return set
}

func (s *store) add(ns string, facts []expr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.set(ns)
	for _, f := range facts {
		set.add(f)
	}
}

func (s *store) facts(ns string) []expr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	return set.list()
}

func (s *store) remove(ns, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.namespaces[ns]; ok {
		set.remove(key)
	}
}

func (s *store) clear(ns string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, ns)
}

// rewrite replaces every fact matching patterns[i] with templates[i]
// instantiated under the match bindings. It returns the number of facts
// rewritten.
func (s *store) rewrite(ns string, patterns, templates []expr) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(ns)
	var (
		removed []string
		added   []expr
	)
	for _, fact := range set.list() {
		for i, p := range patterns {
			b := bindings{}
			if match(p, fact, b) {
				removed = append(removed, fact.String())
				added = append(added, substitute(templates[i], b))
				break
			}
		}
	}
	for _, key := range removed {
		set.remove(key)
	}
	for _, e := range added {
		set.add(e)
	}
	return len(removed)
}

// explore lists the distinct next elements below prefix.
func (s *store) explore(ns string, prefix []string) []exploreChild {
	seen := make(map[string]bool)
	var out []exploreChild

	for _, fact := range s.facts(ns) {
		elems := fact.elements()
		if len(elems) <= len(prefix) {
			continue
		}
		matches := true
		for i, p := range prefix {
			if elems[i] != p {
				matches = false
				break
			}
		}
		next := elems[len(prefix)]
		if !matches || seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, exploreChild{prefix: append(append([]string(nil), prefix...), next), value: next})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out
}

type exploreChild struct {
	prefix []string
	value  string
}

package tuplespace

import "sync"

// Store is one node's local tuple registry: every tuple it has Put itself,
// plus every tuple it learned of another owner's publish (spec.md §4.3:
// "replicated to every node that learned of the owner at join time").
type Store struct {
	mu      sync.RWMutex
	entries map[[20]byte]Tuple
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[[20]byte]Tuple)}
}

// Put inserts t, or overwrites the entry already stored under its identity
// (spec.md Property P2: "the later put wins").
func (s *Store) Put(t Tuple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[t.key()] = t
}

// FindOne performs a single non-destructive lookup against template
// (spec.md §3's findTuple). If template is fully bound it resolves
// directly to its own storage slot. Otherwise the store is scanned for
// the first entry template.matches; the result's owner field comes from
// the stored tuple (the true publisher) but its filter fields are echoed
// back from template itself — grounded on staticTupleSpace.py's findTuple,
// which builds its reply as (value[0], value[1], originalPublisherID,
// value[3], value[4]) using the caller's own template values for the
// trailing fields rather than the stored tuple's.
func (s *Store) FindOne(template Tuple) (Tuple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if template.fullyBound() {
		stored, ok := s.entries[template.key()]
		if !ok {
			return Tuple{}, false
		}
		return echo(template, stored), true
	}

	for _, stored := range s.entries {
		if template.matches(stored) {
			return echo(template, stored), true
		}
	}
	return Tuple{}, false
}

func echo(template, stored Tuple) Tuple {
	return Tuple{
		Kind:           template.Kind,
		SubKind:        template.SubKind,
		Owner:          stored.Owner,
		ChannelFilter:  template.ChannelFilter,
		CallerIDFilter: template.CallerIDFilter,
	}
}

// FindAll performs a non-destructive scan returning every stored tuple
// matching template, with its real (not echoed) field values. Used by
// federation routing (spec.md §4.4) to enumerate candidate handler tuples
// across owners before applying the priority-class rules; C3 itself names
// only the single-result findTuple, but §4.4's "read all handler tuples
// matching (handler, ivr, wildcard, wildcard, wildcard)" requires this
// broader enumeration.
func (s *Store) FindAll(template Tuple) []Tuple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Tuple
	for _, stored := range s.entries {
		if template.matches(stored) {
			out = append(out, stored)
		}
	}
	return out
}

// Take performs a destructive lookup: on a match it removes the entry and
// returns it in the same echoed form FindOne uses (owner from the stored
// tuple, filter fields from template), satisfying spec.md §3's
// "get / getIfExists deletes on success". original_source's get()/
// getIfExists() call through to findTuple without ever deleting — a noted
// gap in the original ("TODO: consider a mechanism that removes the
// tuple") — but spec.md states deletion as a firm invariant, so the take
// here actually removes the entry.
func (s *Store) Take(template Tuple) (Tuple, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if template.fullyBound() {
		key := template.key()
		stored, ok := s.entries[key]
		if !ok {
			return Tuple{}, false
		}
		delete(s.entries, key)
		return echo(template, stored), true
	}

	for key, stored := range s.entries {
		if template.matches(stored) {
			delete(s.entries, key)
			return echo(template, stored), true
		}
	}
	return Tuple{}, false
}

// GetOwned returns every tuple this store holds whose Owner is self.
func (s *Store) GetOwned(self string) []Tuple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Tuple
	for _, stored := range s.entries {
		if stored.Owner == self {
			out = append(out, stored)
		}
	}
	return out
}

// GetAll returns every tuple in the store, owner and all, for replication
// to a joining node (spec.md §4.3, "getAllTuples").
func (s *Store) GetAll() []Tuple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tuple, 0, len(s.entries))
	for _, stored := range s.entries {
		out = append(out, stored)
	}
	return out
}

// Len returns the number of tuples currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

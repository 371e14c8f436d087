package scheduler

// DisjointSet is a union-find over string ids with path compression and
// union by rank.
type DisjointSet struct {
	parent map[string]string
	rank   map[string]int
}

func NewDisjointSet(ids ...string) *DisjointSet {
	set := &DisjointSet{
		parent: make(map[string]string, len(ids)),
		rank:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (s *DisjointSet) Add(id string) {
	if _, exists := s.parent[id]; exists {
		return
	}
	s.parent[id] = id
	s.rank[id] = 0
}

// Find returns the representative of id, adding id as a singleton if unseen.
func (s *DisjointSet) Find(id string) string {
	s.Add(id)
	root := id
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for id != root {
		next := s.parent[id]
		s.parent[id] = root
		id = next
	}
	return root
}

// Union merges the sets of a and b and reports whether they were separate.
func (s *DisjointSet) Union(a, b string) bool {
	rootA, rootB := s.Find(a), s.Find(b)
	if rootA == rootB {
		return false
	}
	switch {
	case s.rank[rootA] < s.rank[rootB]:
		s.parent[rootA] = rootB
	case s.rank[rootA] > s.rank[rootB]:
		s.parent[rootB] = rootA
	default:
		s.parent[rootB] = rootA
		s.rank[rootA]++
	}
	return true
}

func (s *DisjointSet) Connected(a, b string) bool {
	return s.Find(a) == s.Find(b)
}

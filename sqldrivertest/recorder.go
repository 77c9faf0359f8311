package sqldrivertest

import "sync"

// Entry is one recorded driver operation
type Entry struct {
	Backend string
	Op      string
	Query   string
}

// Recorder collects operations across the drivers that share it
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) record(e Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of everything recorded so far
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Backends returns, in order, the backend label of every recorded
// occurrence of op
func (r *Recorder) Backends(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Op == op {
			out = append(out, e.Backend)
		}
	}
	return out
}

// Reset discards everything recorded so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

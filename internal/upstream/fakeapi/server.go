// Package fakeapi serves an in-memory TCGdex-compatible catalog for tests and
// local development, with failure injection per path.
package fakeapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mappy4ever/tcgsync/internal/upstream"
)

const always = -1

type Server struct {
	mu       sync.Mutex
	series   []string
	serie    map[string]*upstream.Serie
	sets     map[string]*upstream.Set
	cards    map[string]*upstream.Card
	failures map[string]int
	removed  map[string]bool
	hits     map[string]int
	latency  time.Duration
}

func New() *Server {
	return &Server{
		serie:    map[string]*upstream.Serie{},
		sets:     map[string]*upstream.Set{},
		cards:    map[string]*upstream.Card{},
		failures: map[string]int{},
		removed:  map[string]bool{},
		hits:     map[string]int{},
	}
}

// AddSerie registers a series; its set list is filled in by AddSet.
func (s *Server) AddSerie(id, name string, logo *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.serie[id]; !ok {
		s.series = append(s.series, id)
	}
	s.serie[id] = &upstream.Serie{ID: id, Name: name, Logo: logo}
}

// AddSet registers set under its Serie (if any). Cards are attached by AddCard.
func (s *Server) AddSet(set upstream.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := set
	cp.Cards = nil
	if cp.CardCount == nil {
		cp.CardCount = &upstream.CardCount{Total: intp(0), Official: intp(0)}
	} else {
		cc := *cp.CardCount
		cp.CardCount = &cc
	}
	s.sets[cp.ID] = &cp
	if cp.Serie != nil {
		if sr, ok := s.serie[cp.Serie.ID]; ok {
			sr.Sets = append(sr.Sets, upstream.SetBrief{
				ID: cp.ID, Name: cp.Name, Logo: cp.Logo, Symbol: cp.Symbol, CardCount: cp.CardCount,
			})
		}
	}
	for _, b := range set.Cards {
		s.attachLocked(cp.ID, b)
	}
}

// AddCard stores card and appends its brief to the owning set's card list.
func (s *Server) AddCard(setID string, card upstream.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := card
	if cp.Set == nil {
		if st, ok := s.sets[setID]; ok {
			cp.Set = &upstream.SetBrief{ID: st.ID, Name: st.Name, Logo: st.Logo, Symbol: st.Symbol}
		}
	}
	s.cards[cp.ID] = &cp
	s.attachLocked(setID, upstream.CardBrief{ID: cp.ID, LocalID: cp.LocalID, Name: cp.Name, Image: cp.Image})
}

// AddBrief lists a card in a set without storing its detail payload, so that
// fetching it yields a 404.
func (s *Server) AddBrief(setID string, brief upstream.CardBrief) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachLocked(setID, brief)
}

func (s *Server) attachLocked(setID string, b upstream.CardBrief) {
	st, ok := s.sets[setID]
	if !ok {
		return
	}
	st.Cards = append(st.Cards, b)
	n := len(st.Cards)
	st.CardCount.Total = &n
	if st.CardCount.Official == nil || *st.CardCount.Official < n {
		off := n
		st.CardCount.Official = &off
	}
}

// FailTimes makes the next n requests to path answer 500.
func (s *Server) FailTimes(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// FailAlways makes every request to path answer 500.
func (s *Server) FailAlways(path string) {
	s.FailTimes(path, always)
}

// Heal clears failure injection for path.
func (s *Server) Heal(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Remove makes path answer 404.
func (s *Server) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[path] = true
}

// SetLatency delays every response.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		n += h
	}
	return n
}

func (s *Server) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = map[string]int{}
}

// TouchSet sets the last-modified marker of a set.
func (s *Server) TouchSet(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sets[id]; ok {
		v := at.UTC().Format(time.RFC3339)
		st.Updated = &v
	}
}

// TouchCard sets the last-modified marker of a card.
func (s *Server) TouchCard(id string, at time.Time) {
	s.UpdateCard(id, func(c *upstream.Card) {
		v := at.UTC().Format(time.RFC3339)
		c.Updated = &v
	})
}

// UpdateCard mutates a stored card in place.
func (s *Server) UpdateCard(id string, fn func(*upstream.Card)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cards[id]; ok {
		fn(c)
	}
}

func (s *Server) Card(id string) (upstream.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return upstream.Card{}, false
	}
	return *c, true
}

// SetIDs lists every set in registration order of its series.
func (s *Server) SetIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, sid := range s.series {
		for _, b := range s.serie[sid].Sets {
			ids = append(ids, b.ID)
		}
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	var orphans []string
	for id := range s.sets {
		if !seen[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return append(ids, orphans...)
}

func (s *Server) CardIDs(setID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sets[setID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(st.Cards))
	for _, b := range st.Cards {
		ids = append(ids, b.ID)
	}
	return ids
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimRight(r.URL.Path, "/")

	s.mu.Lock()
	s.hits[path]++
	latency := s.latency
	fail := false
	if n, ok := s.failures[path]; ok {
		switch {
		case n == always:
			fail = true
		case n > 0:
			s.failures[path] = n - 1
			fail = true
		}
	}
	removed := s.removed[path]
	var body any
	if !fail && !removed {
		body = s.lookupLocked(path)
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch {
	case fail:
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	case removed || body == nil:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// lookupLocked returns a snapshot of the resource at path, or nil.
func (s *Server) lookupLocked(path string) any {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "series":
		out := make([]upstream.SerieBrief, 0, len(s.series))
		for _, id := range s.series {
			sr := s.serie[id]
			out = append(out, upstream.SerieBrief{ID: sr.ID, Name: sr.Name, Logo: sr.Logo})
		}
		return out
	case len(parts) == 2 && parts[0] == "series":
		if sr, ok := s.serie[parts[1]]; ok {
			cp := *sr
			cp.Sets = append([]upstream.SetBrief(nil), sr.Sets...)
			return cp
		}
	case len(parts) == 2 && parts[0] == "sets":
		if st, ok := s.sets[parts[1]]; ok {
			cp := *st
			cp.Cards = append([]upstream.CardBrief(nil), st.Cards...)
			return cp
		}
	case len(parts) == 2 && parts[0] == "cards":
		if c, ok := s.cards[parts[1]]; ok {
			return *c
		}
	}
	return nil
}

// Handler mounts the catalog under prefix, e.g. "/v2/en".
func (s *Server) Handler(prefix string) http.Handler {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return s
	}
	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, s))
	return mux
}

func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("fakeapi: %d series, %d sets, %d cards", len(s.series), len(s.sets), len(s.cards))
}

func intp(v int) *int { return &v }

package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lepinkainen/deckhand/internal/card"
)

// CardServer is a scripted fake of the card service. It serves registered
// cards by printing and by exact name, counts every request, and can be told
// to fail the next requests for a lookup with given status codes.
type CardServer struct {
	*httptest.Server

	mu         sync.Mutex
	byPrinting map[string]card.Card
	byName     map[string]card.Card
	failures   map[string][]int
	hits       map[string]int
	total      int
	retryAfter string
	lastHeader http.Header
}

// NewCardServer starts a CardServer that is closed when the test completes.
func NewCardServer(t *testing.T) *CardServer {
	t.Helper()

	s := &CardServer{
		byPrinting: make(map[string]card.Card),
		byName:     make(map[string]card.Card),
		failures:   make(map[string][]int),
		hits:       make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// AddCard registers c under its printing and its name.
func (s *CardServer) AddCard(c card.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Set != "" && c.CollectorNumber != "" {
		s.byPrinting[PrintingLookup(c.Set, c.CollectorNumber)] = c
	}
	if c.Name != "" {
		s.byName[NameLookup(c.Name)] = c
	}
}

// FailNext makes the next len(statuses) requests for lookup answer with the
// given status codes before normal service resumes.
func (s *CardServer) FailNext(lookup string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[lookup] = append(s.failures[lookup], statuses...)
}

// SetRetryAfter sets the Retry-After header sent with 429 answers.
func (s *CardServer) SetRetryAfter(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter = value
}

// Hits returns how many requests were made for lookup.
func (s *CardServer) Hits(lookup string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[lookup]
}

// Requests returns the total number of requests served.
func (s *CardServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// LastHeader returns the headers of the most recent request.
func (s *CardServer) LastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeader.Clone()
}

// PrintingLookup is the lookup label for a printing request.
func PrintingLookup(set, number string) string {
	return strings.ToLower(set) + "/" + number
}

// NameLookup is the lookup label for an exact-name request.
func NameLookup(name string) string {
	return "name:" + strings.ToLower(name)
}

func (s *CardServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.lastHeader = r.Header.Clone()

	lookup, found, ok := s.resolve(r)
	if !ok {
		http.Error(w, `{"object":"error","code":"bad_request"}`, http.StatusBadRequest)
		return
	}
	s.hits[lookup]++

	if pending := s.failures[lookup]; len(pending) > 0 {
		status := pending[0]
		s.failures[lookup] = pending[1:]
		if status == http.StatusTooManyRequests && s.retryAfter != "" {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		http.Error(w, `{"object":"error"}`, status)
		return
	}

	if found == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"object":"error","code":"not_found","status":404}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(found)
}

// resolve maps the request onto a lookup label and the matching card.
func (s *CardServer) resolve(r *http.Request) (string, *card.Card, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/cards/")
	if path == "named" {
		name := r.URL.Query().Get("exact")
		if name == "" {
			return "", nil, false
		}
		lookup := NameLookup(name)
		c, ok := s.byName[lookup]
		set := r.URL.Query().Get("set")
		if set != "" {
			lookup += "@" + strings.ToLower(set)
			if ok && !strings.EqualFold(c.Set, set) {
				ok = false
			}
		}
		if !ok {
			return lookup, nil, true
		}
		return lookup, &c, true
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, false
	}
	lookup := PrintingLookup(parts[0], parts[1])
	c, ok := s.byPrinting[lookup]
	if !ok {
		return lookup, nil, true
	}
	return lookup, &c, true
}

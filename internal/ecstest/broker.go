// Package ecstest runs an in-memory broker over httptest for exercising the
// protocol client and the sync passes without a live server.
package ecstest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"campus-sync/internal/domain"
)

type storedResource struct {
	Type      domain.ResourceType
	Payload   []byte
	Senders   []int
	Receivers []int
	Mine      bool // created through this connection
}

type storedEvent struct {
	Ressource string             `json:"ressource"`
	Status    domain.EventStatus `json:"status"`
}

type storedToken struct {
	Hash  string `json:"hash"`
	Realm string `json:"realm"`
	URL   string `json:"url,omitempty"`
}

// Broker is a minimal single-connection broker double. Resources created
// through it are "sent"; resources seeded with Receive are "received".
type Broker struct {
	mu     sync.Mutex
	nextID int
	res    map[int]*storedResource
	events []storedEvent
	tokens map[string]storedToken

	// Memberships is returned verbatim from /sys/memberships.
	Memberships []map[string]any

	srv *httptest.Server
}

func New() *Broker {
	b := &Broker{
		nextID: 100,
		res:    map[int]*storedResource{},
		tokens: map[string]storedToken{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

func (b *Broker) URL() string { return b.srv.URL }
func (b *Broker) Close()      { b.srv.Close() }

// Receive seeds a resource as if another participant had sent it, and queues
// the matching created event.
func (b *Broker) Receive(res domain.Resource, senderMID int) int {
	payload, err := res.MarshalPayload()
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.res[id] = &storedResource{
		Type:    res.ResourceType(),
		Payload: payload,
		Senders: []int{senderMID},
	}
	b.events = append(b.events, storedEvent{
		Ressource: fmt.Sprintf("campusconnect/%s/%d", res.ResourceType(), id),
		Status:    domain.EventCreated,
	})
	return id
}

// UpdateReceived rewrites a seeded resource and queues an updated event.
func (b *Broker) UpdateReceived(id int, res domain.Resource) {
	payload, err := res.MarshalPayload()
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.res[id]
	r.Payload = payload
	b.events = append(b.events, storedEvent{
		Ressource: fmt.Sprintf("campusconnect/%s/%d", r.Type, id),
		Status:    domain.EventUpdated,
	})
}

// DestroyReceived drops a seeded resource and queues a destroyed event.
func (b *Broker) DestroyReceived(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.res[id]
	delete(b.res, id)
	b.events = append(b.events, storedEvent{
		Ressource: fmt.Sprintf("campusconnect/%s/%d", r.Type, id),
		Status:    domain.EventDestroyed,
	})
}

// Resource returns the stored payload for assertions.
func (b *Broker) Resource(id int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.res[id]
	if !ok {
		return nil, false
	}
	return r.Payload, true
}

// SentIDs lists ids of resources of one type created through the connection.
func (b *Broker) SentIDs(t domain.ResourceType) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []int
	for id, r := range b.res {
		if r.Type == t && r.Mine {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingEvents reports how many feed entries are still queued.
func (b *Broker) PendingEvents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Broker) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "sys/events/fifo":
		b.handleEvents(w, r)
	case path == "sys/auths":
		b.handleAuthRequest(w, r)
	case strings.HasPrefix(path, "sys/auths/"):
		b.handleAuthConfirm(w, r, strings.TrimPrefix(path, "sys/auths/"))
	case path == "sys/memberships":
		writeJSON(w, b.Memberships)
	case strings.HasPrefix(path, "campusconnect/"):
		b.handleResource(w, r, strings.TrimPrefix(path, "campusconnect/"))
	default:
		http.NotFound(w, r)
	}
}

func (b *Broker) handleEvents(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	evs := make([]storedEvent, len(b.events))
	copy(evs, b.events)
	if r.Method == http.MethodPost {
		b.events = nil
	}
	b.mu.Unlock()
	writeJSON(w, evs)
}

func (b *Broker) handleAuthRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var tok storedToken
	if err := json.NewDecoder(r.Body).Decode(&tok); err != nil {
		http.Error(w, "bad token request", http.StatusBadRequest)
		return
	}
	tok.Hash = uuid.NewString()
	b.mu.Lock()
	b.tokens[tok.Hash] = tok
	b.mu.Unlock()
	writeJSON(w, tok)
}

func (b *Broker) handleAuthConfirm(w http.ResponseWriter, r *http.Request, hash string) {
	b.mu.Lock()
	tok, ok := b.tokens[hash]
	if ok {
		delete(b.tokens, hash) // single use
	}
	b.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or consumed token", http.StatusNotFound)
		return
	}
	writeJSON(w, tok)
}

func (b *Broker) handleResource(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	typ := domain.ResourceType(parts[0])
	if _, ok := domain.NewResource(typ); !ok {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			b.handleList(w, r, typ)
		case http.MethodPost:
			b.handleCreate(w, r, typ)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id, err := strconv.Atoi(parts[1])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	details := len(parts) == 3 && parts[2] == "details"

	b.mu.Lock()
	res, ok := b.res[id]
	b.mu.Unlock()
	if !ok || res.Type != typ {
		http.NotFound(w, r)
		return
	}

	switch {
	case details:
		b.writeDetails(w, r, id, res)
	case r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		w.Write(res.Payload)
	case r.Method == http.MethodPut:
		body, _ := readBody(r)
		b.mu.Lock()
		res.Payload = body
		res.Receivers = receiversFrom(r)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete:
		b.mu.Lock()
		delete(b.res, id)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *Broker) handleList(w http.ResponseWriter, r *http.Request, typ domain.ResourceType) {
	sending := r.URL.Query().Get("sending") == "true"
	type link struct {
		Href string `json:"href"`
	}
	links := []link{}
	b.mu.Lock()
	for id, res := range b.res {
		if res.Type != typ {
			continue
		}
		if res.Mine == sending {
			links = append(links, link{Href: fmt.Sprintf("%s/campusconnect/%s/%d", b.srv.URL, typ, id)})
		}
	}
	b.mu.Unlock()
	writeJSON(w, links)
}

func (b *Broker) handleCreate(w http.ResponseWriter, r *http.Request, typ domain.ResourceType) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.res[id] = &storedResource{
		Type:      typ,
		Payload:   body,
		Mine:      true,
		Receivers: receiversFrom(r),
	}
	b.mu.Unlock()
	w.Header().Set("Location", fmt.Sprintf("%s/campusconnect/%s/%d", b.srv.URL, typ, id))
	w.WriteHeader(http.StatusCreated)
}

func (b *Broker) writeDetails(w http.ResponseWriter, r *http.Request, id int, res *storedResource) {
	type mid struct {
		MID int `json:"mid"`
	}
	senders := []mid{}
	for _, m := range res.Senders {
		senders = append(senders, mid{MID: m})
	}
	receivers := []mid{}
	for _, m := range res.Receivers {
		receivers = append(receivers, mid{MID: m})
	}
	writeJSON(w, map[string]any{
		"url":          fmt.Sprintf("%s/campusconnect/%s/%d", b.srv.URL, res.Type, id),
		"content_type": "application/json",
		"owner":        map[string]any{"itsyou": res.Mine},
		"senders":      senders,
		"receivers":    receivers,
	})
}

func receiversFrom(r *http.Request) []int {
	h := r.Header.Get("X-EcsReceiverMemberships")
	if h == "" {
		return nil
	}
	var out []int
	for _, s := range strings.Split(h, ",") {
		if m, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

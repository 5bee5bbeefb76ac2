package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CallContext carries the dynamic variables seeded at call-placement time plus
// the structured result extracted from agent speech mid-call.
type CallContext struct {
	DynamicVariables map[string]string
	AgentResult      map[string]string
}

type contextEntry struct {
	ctx      CallContext
	storedAt time.Time
}

// ContextStore maps provider call SIDs to per-call context. It is owned by
// whichever component composes the call initiator and the bridge engine and
// is injected into both; it is never package-global state.
//
// Entries are evicted when the bridge closes a call and, as a backstop, when
// they outlive the configured TTL (calls that never connect would otherwise
// accumulate forever).
type ContextStore struct {
	mu      sync.Mutex
	entries map[string]contextEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewContextStore creates a store whose entries expire after ttl. A zero ttl
// disables the sweep.
func NewContextStore(ttl time.Duration) *ContextStore {
	return &ContextStore{
		entries: make(map[string]contextEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put seeds the dynamic variables for a call. Values must already be
// string-coerced; see StringifyVars.
func (s *ContextStore) Put(callSID string, vars map[string]string) {
	if s == nil || callSID == "" {
		return
	}
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[callSID] = contextEntry{
		ctx:      CallContext{DynamicVariables: copied},
		storedAt: s.now(),
	}
}

// Get returns the context for a call. Absent call SIDs yield an empty
// variable map and ok=false; callers proceed with the empty map rather than
// treating the miss as an error.
func (s *ContextStore) Get(callSID string) (CallContext, bool) {
	if s == nil {
		return CallContext{DynamicVariables: map[string]string{}}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	entry, ok := s.entries[callSID]
	if !ok {
		return CallContext{DynamicVariables: map[string]string{}}, false
	}
	return entry.ctx, true
}

// SetAgentResult records the structured outcome extracted mid-call. A result
// for an unknown call SID creates the entry so the webhook path can still
// observe it.
func (s *ContextStore) SetAgentResult(callSID string, result map[string]string) {
	if s == nil || callSID == "" {
		return
	}
	copied := make(map[string]string, len(result))
	for k, v := range result {
		copied[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[callSID]
	if !ok {
		entry = contextEntry{
			ctx:      CallContext{DynamicVariables: map[string]string{}},
			storedAt: s.now(),
		}
	}
	entry.ctx.AgentResult = copied
	s.entries[callSID] = entry
}

// Remove evicts a call's context. Called by the bridge on call close.
func (s *ContextStore) Remove(callSID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, callSID)
}

// Len reports the number of live entries.
func (s *ContextStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

func (s *ContextStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for sid, entry := range s.entries {
		if entry.storedAt.Before(cutoff) {
			delete(s.entries, sid)
		}
	}
}

// StringifyVars coerces a decoded JSON variable map to the all-string form the
// voice agent requires. Scalars format as their literal text; composite values
// are re-serialized as JSON.
func StringifyVars(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		case bool, float64, int, int64:
			out[k] = fmt.Sprintf("%v", val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprintf("%v", val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

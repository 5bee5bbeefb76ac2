package bridge

import (
	"testing"
	"time"
)

func TestContextStorePutGet(t *testing.T) {
	store := NewContextStore(time.Minute)
	store.Put("CA1", map[string]string{"patient_name": "Parth Joshi", "specialty": "Cardiology"})

	ctx, ok := store.Get("CA1")
	if !ok {
		t.Fatal("expected stored context")
	}
	if ctx.DynamicVariables["patient_name"] != "Parth Joshi" {
		t.Fatalf("unexpected variables: %v", ctx.DynamicVariables)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry, got %d", store.Len())
	}
}

func TestContextStoreGetMissing(t *testing.T) {
	store := NewContextStore(time.Minute)
	ctx, ok := store.Get("CA404")
	if ok {
		t.Fatal("expected miss for unknown call sid")
	}
	if ctx.DynamicVariables == nil {
		t.Fatal("expected empty variable map, got nil")
	}
	if len(ctx.DynamicVariables) != 0 {
		t.Fatalf("expected empty variables, got %v", ctx.DynamicVariables)
	}
}

func TestContextStorePutCopiesInput(t *testing.T) {
	store := NewContextStore(time.Minute)
	vars := map[string]string{"patient_name": "Parth Joshi"}
	store.Put("CA2", vars)
	vars["patient_name"] = "changed"

	ctx, _ := store.Get("CA2")
	if ctx.DynamicVariables["patient_name"] != "Parth Joshi" {
		t.Fatal("store must not alias the caller's map")
	}
}

func TestContextStoreSetAgentResult(t *testing.T) {
	store := NewContextStore(time.Minute)
	store.Put("CA3", map[string]string{"patient_name": "Dana Cruz"})
	store.SetAgentResult("CA3", map[string]string{"Rescheduled": "false", "name": "Dana Cruz"})

	ctx, ok := store.Get("CA3")
	if !ok {
		t.Fatal("expected entry")
	}
	if ctx.DynamicVariables["patient_name"] != "Dana Cruz" {
		t.Fatal("agent result must not clobber dynamic variables")
	}
	if ctx.AgentResult["Rescheduled"] != "false" {
		t.Fatalf("unexpected agent result: %v", ctx.AgentResult)
	}

	// A result for a call the store never saw still becomes observable.
	store.SetAgentResult("CA4", map[string]string{"Rescheduled": "true"})
	ctx, ok = store.Get("CA4")
	if !ok || ctx.AgentResult["Rescheduled"] != "true" {
		t.Fatalf("expected created entry with result, got %v ok=%v", ctx.AgentResult, ok)
	}
}

func TestContextStoreRemove(t *testing.T) {
	store := NewContextStore(time.Minute)
	store.Put("CA5", map[string]string{"k": "v"})
	store.Remove("CA5")
	if _, ok := store.Get("CA5"); ok {
		t.Fatal("expected entry removed")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestContextStoreSweepsExpiredEntries(t *testing.T) {
	store := NewContextStore(10 * time.Minute)
	base := time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	store.Put("CA-old", map[string]string{"k": "v"})

	// The sweep runs on the next access after the TTL has passed.
	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	store.Put("CA-new", map[string]string{"k": "v"})

	if _, ok := store.Get("CA-old"); ok {
		t.Fatal("expected expired entry evicted")
	}
	if _, ok := store.Get("CA-new"); !ok {
		t.Fatal("expected fresh entry kept")
	}
}

func TestContextStoreSweepsOnRead(t *testing.T) {
	store := NewContextStore(10 * time.Minute)
	base := time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.Put("CA-old", map[string]string{"k": "v"})

	// No further writes: an idle store must still shed expired entries when
	// it is next read.
	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, ok := store.Get("CA-old"); ok {
		t.Fatal("expected expired entry evicted on read")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", store.Len())
	}
}

func TestContextStoreZeroTTLDisablesSweep(t *testing.T) {
	store := NewContextStore(0)
	base := time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.Put("CA-old", map[string]string{"k": "v"})

	store.now = func() time.Time { return base.Add(24 * time.Hour) }
	store.Put("CA-new", map[string]string{"k": "v"})

	if store.Len() != 2 {
		t.Fatalf("expected both entries kept, got %d", store.Len())
	}
}

func TestStringifyVars(t *testing.T) {
	got := StringifyVars(map[string]any{
		"name":    "Parth Joshi",
		"age":     float64(41),
		"active":  true,
		"note":    nil,
		"address": map[string]any{"city": "Lowell"},
	})

	if got["name"] != "Parth Joshi" {
		t.Fatalf("string passthrough failed: %q", got["name"])
	}
	if got["age"] != "41" {
		t.Fatalf("number formatting failed: %q", got["age"])
	}
	if got["active"] != "true" {
		t.Fatalf("bool formatting failed: %q", got["active"])
	}
	if got["note"] != "" {
		t.Fatalf("nil should map to empty string, got %q", got["note"])
	}
	if got["address"] != `{"city":"Lowell"}` {
		t.Fatalf("composite should serialize as JSON, got %q", got["address"])
	}
}

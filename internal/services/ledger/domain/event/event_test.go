package event

import (
	"sort"
	"testing"
	"time"
)

func TestBeforeOrdersByOccurrenceThenVersion(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "late", Version: 1, OccurredAt: base.Add(time.Minute)},
		{ID: "tie-second", Version: 3, OccurredAt: base},
		{ID: "tie-first", Version: 2, OccurredAt: base},
		{ID: "early", Version: 4, OccurredAt: base.Add(-time.Minute)},
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })

	want := []string{"early", "tie-first", "tie-second", "late"}
	for i, id := range want {
		if events[i].ID != id {
			t.Fatalf("events[%d] = %s, want %s", i, events[i].ID, id)
		}
	}
}

func TestEventHashIsStableAndSensitive(t *testing.T) {
	evt := Event{
		ID:          "evt-1",
		StreamID:    "restaurant-r1-settings",
		Version:     1,
		Type:        TypeTipsPolicyUpdated,
		PayloadJSON: []byte(`{"includeManagers":true}`),
		Meta:        Meta{ActorType: "manager", ActorID: "m-1"},
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	first, err := EventHash(evt)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := EventHash(evt)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatal("expected stable hash")
	}

	tampered := evt
	tampered.PayloadJSON = []byte(`{"includeManagers":false}`)
	third, err := EventHash(tampered)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if third == first {
		t.Fatal("expected payload change to alter hash")
	}

	if _, err := EventHash(Event{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestChainHashLinksPredecessor(t *testing.T) {
	a, err := ChainHash("h1", "")
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	b, err := ChainHash("h1", "prev")
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	if a == b {
		t.Fatal("expected predecessor to change chain hash")
	}
	if _, err := ChainHash("", "prev"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

package policy

import (
	"testing"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

func policyEvent(version uint64, include bool, at time.Time) event.Event {
	payload := `{"includeManagers":false}`
	if include {
		payload = `{"includeManagers":true}`
	}
	return event.Event{
		Version:     version,
		Type:        event.TypeTipsPolicyUpdated,
		PayloadJSON: []byte(payload),
		OccurredAt:  at,
	}
}

func TestFoldLastWriteWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := Default()
	var err error
	for _, evt := range []event.Event{policyEvent(1, true, base), policyEvent(2, false, base.Add(time.Minute))} {
		state, err = Fold(state, evt)
		if err != nil {
			t.Fatalf("fold: %v", err)
		}
	}
	if state.IncludeManagers {
		t.Fatal("expected include managers false")
	}
	if state.Updates != 2 {
		t.Fatalf("updates = %d, want 2", state.Updates)
	}
}

func TestFoldIgnoresOtherSettings(t *testing.T) {
	state, err := Fold(ManagerPolicy{IncludeManagers: true}, event.Event{Type: "OPENING_HOURS_CHANGED", PayloadJSON: []byte(`{}`)})
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if !state.IncludeManagers || state.Updates != 0 {
		t.Fatalf("state = %+v", state)
	}
}

func TestFoldRejectsMalformedPayload(t *testing.T) {
	if _, err := Fold(Default(), event.Event{Type: event.TypeTipsPolicyUpdated, PayloadJSON: []byte(`{`)}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDefaultExcludesManagers(t *testing.T) {
	if Default().IncludeManagers {
		t.Fatal("expected default to exclude managers")
	}
}

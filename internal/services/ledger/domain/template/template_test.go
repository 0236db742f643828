package template

import (
	"testing"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

func TestNextRev(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		last time.Time
		now  time.Time
		want time.Time
	}{
		{name: "first version", last: time.Time{}, now: base.Add(1500 * time.Microsecond), want: base.Add(time.Millisecond)},
		{name: "later clock", last: base, now: base.Add(5 * time.Millisecond), want: base.Add(5 * time.Millisecond)},
		{name: "same millisecond", last: base, now: base.Add(300 * time.Microsecond), want: base.Add(time.Millisecond)},
		{name: "clock behind", last: base, now: base.Add(-time.Second), want: base.Add(time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRev(tt.last, tt.now); !got.Equal(tt.want) {
				t.Fatalf("NextRev = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionID(t *testing.T) {
	rev := time.UnixMilli(1772359200123).UTC()
	if got := VersionID(rev); got != "1772359200123" {
		t.Fatalf("VersionID = %q", got)
	}
}

func TestFoldKeepsVersionsInOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []event.Event{
		{Version: 1, Type: event.TypeTemplateVersionPublished, OccurredAt: base,
			PayloadJSON: []byte(`{"restaurantId":"r1","name":"closing","versionId":"1","fields":["cash"],"body":"v1"}`)},
		{Version: 2, Type: event.TypeTemplateVersionPublished, OccurredAt: base.Add(time.Millisecond),
			PayloadJSON: []byte(`{"name":"closing","versionId":"2","fields":["cash","card"],"body":"v2"}`)},
	}
	state := Template{}
	var err error
	for _, evt := range events {
		if state, err = Fold(state, evt); err != nil {
			t.Fatalf("fold: %v", err)
		}
	}
	latest, ok := state.Latest()
	if !ok {
		t.Fatal("expected latest version")
	}
	if latest.VersionID != "2" || latest.Body != "v2" || len(latest.Fields) != 2 {
		t.Fatalf("latest = %+v", latest)
	}
	if state.RestaurantID != "r1" || state.StreamVersion != 2 || len(state.Versions) != 2 {
		t.Fatalf("state = %+v", state)
	}
	if !state.LastRev().Equal(base.Add(time.Millisecond)) {
		t.Fatalf("last rev = %v", state.LastRev())
	}
}

func TestLatestEmpty(t *testing.T) {
	if _, ok := (Template{}).Latest(); ok {
		t.Fatal("expected no latest version")
	}
	if !(Template{}).LastRev().IsZero() {
		t.Fatal("expected zero last rev")
	}
}

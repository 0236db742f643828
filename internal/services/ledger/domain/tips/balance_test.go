package tips

import (
	"testing"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
)

func TestEffectOf(t *testing.T) {
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	distributed := event.Event{
		ID:          "d1",
		StreamID:    "restaurant-r1-tips-2026-03-01",
		Type:        event.TypeTipsDistributed,
		PayloadJSON: []byte(`{"date":"2026-03-01","totalTips":"80.01","allocations":[{"employeeId":"a","amount":"50.005"},{"employeeId":"b","amount":"30.00"}]}`),
		OccurredAt:  at,
	}
	effect, ok, err := EffectOf(nil, distributed)
	if err != nil || !ok {
		t.Fatalf("EffectOf distributed = %v, %v", ok, err)
	}
	if effect.RestaurantID != "r1" || effect.Date != "2026-03-01" {
		t.Fatalf("effect = %+v", effect)
	}
	if len(effect.Deltas) != 2 || effect.Deltas[0].Cents != 5001 || effect.Deltas[1].Cents != 3000 {
		t.Fatalf("deltas = %+v", effect.Deltas)
	}
	if effect.Total() != 8001 {
		t.Fatalf("total = %d, want 8001", effect.Total())
	}

	paid := event.Event{
		ID:          "p1",
		StreamID:    "restaurant-r1-tips-payouts",
		Type:        event.TypeTipPaid,
		PayloadJSON: []byte(`{"restaurantId":"r1","employeeId":"a","amount":"40.00"}`),
		OccurredAt:  at,
	}
	effect, ok, err = EffectOf(nil, paid)
	if err != nil || !ok {
		t.Fatalf("EffectOf paid = %v, %v", ok, err)
	}
	if effect.Date != "2026-03-02" || effect.Deltas[0].Cents != -4000 {
		t.Fatalf("paid effect = %+v", effect)
	}

	balances := map[string]money.Cents{"a": 100}
	ApplyEffects(balances, "r1", effect, BalanceEffect{RestaurantID: "r2", Deltas: []Delta{{EmployeeID: "a", Cents: 999}}})
	if balances["a"] != -3900 {
		t.Fatalf("balance = %d, want -3900", balances["a"])
	}
}

func TestEffectOfIgnoresOtherTypes(t *testing.T) {
	_, ok, err := EffectOf(nil, event.Event{Type: event.TypeTipsPolicyUpdated, PayloadJSON: []byte(`{}`)})
	if ok || err != nil {
		t.Fatalf("EffectOf = %v, %v; want false, nil", ok, err)
	}
}

func TestEffectOfUnresolvableRestaurant(t *testing.T) {
	evt := event.Event{
		ID:          "p1",
		StreamID:    "payouts",
		Type:        event.TypeTipPaid,
		PayloadJSON: []byte(`{"employeeId":"a","amount":"20.00"}`),
	}
	if _, ok, err := EffectOf(nil, evt); !ok || err == nil {
		t.Fatalf("EffectOf = %v, %v; want error", ok, err)
	}
}

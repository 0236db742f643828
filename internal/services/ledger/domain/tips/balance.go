package tips

import (
	"fmt"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/stream"
)

// BalanceTypes are the event types that move tip balances.
var BalanceTypes = []event.Type{event.TypeTipsDistributed, event.TypeTipPaid}

// Delta is one employee's balance change.
type Delta struct {
	EmployeeID string
	Cents      money.Cents
}

// BalanceEffect is what one ledger event does to a restaurant's tip
// balances.
type BalanceEffect struct {
	RestaurantID string
	// Date is the distribution date for TIPS_DISTRIBUTED and the UTC day of
	// occurrence for TIP_PAID.
	Date   string
	Deltas []Delta
}

// Total sums the deltas.
func (e BalanceEffect) Total() money.Cents {
	var total money.Cents
	for _, d := range e.Deltas {
		total += d.Cents
	}
	return total
}

// EffectOf decodes the balance effect of a tip event. It reports false for
// event types that do not move balances.
func EffectOf(registry *event.Registry, evt event.Event) (BalanceEffect, bool, error) {
	if evt.Type != event.TypeTipsDistributed && evt.Type != event.TypeTipPaid {
		return BalanceEffect{}, false, nil
	}
	if registry == nil {
		registry = event.CoreRegistry()
	}
	payload, err := registry.Decode(evt)
	if err != nil {
		return BalanceEffect{}, true, err
	}
	restaurantID, ok := stream.RestaurantOf(evt)
	if !ok {
		return BalanceEffect{}, true, fmt.Errorf("event %s: restaurant id cannot be resolved from stream %q", evt.ID, evt.StreamID)
	}
	effect := BalanceEffect{RestaurantID: restaurantID}
	switch p := payload.(type) {
	case *event.TipsDistributedPayload:
		effect.Date = p.Date
		for _, a := range p.Allocations {
			effect.Deltas = append(effect.Deltas, Delta{EmployeeID: a.EmployeeID, Cents: a.Amount.Cents()})
		}
	case *event.TipPaidPayload:
		effect.Date = stream.DateOf(evt.OccurredAt)
		effect.Deltas = []Delta{{EmployeeID: p.EmployeeID, Cents: -p.Amount.Cents()}}
	default:
		return BalanceEffect{}, true, fmt.Errorf("event %s: unexpected payload %T", evt.ID, payload)
	}
	return effect, true, nil
}

// ApplyEffects folds balance effects for one restaurant into balances.
func ApplyEffects(balances map[string]money.Cents, restaurantID string, effects ...BalanceEffect) {
	for _, effect := range effects {
		if effect.RestaurantID != restaurantID {
			continue
		}
		for _, d := range effect.Deltas {
			balances[d.EmployeeID] += d.Cents
		}
	}
}

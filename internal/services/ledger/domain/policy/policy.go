// Package policy folds a restaurant's settings stream into its tip policy.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

// ManagerPolicy says whether manager shifts share the tip pool.
type ManagerPolicy struct {
	IncludeManagers bool
	// Updates counts applied TIPS_POLICY_UPDATED events; zero means the
	// default is in effect.
	Updates int
}

// Default is the policy of a restaurant that never set one.
func Default() ManagerPolicy {
	return ManagerPolicy{}
}

// Fold applies one settings event. The last update in occurrence order wins;
// other settings events are ignored.
func Fold(state ManagerPolicy, evt event.Event) (ManagerPolicy, error) {
	if evt.Type != event.TypeTipsPolicyUpdated {
		return state, nil
	}
	var payload event.TipsPolicyUpdatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("decode tips policy: %w", err)
	}
	state.IncludeManagers = payload.IncludeManagers
	state.Updates++
	return state, nil
}

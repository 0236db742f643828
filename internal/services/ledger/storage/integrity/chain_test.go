package integrity

import (
	"testing"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

func testRing(t *testing.T) *Keyring {
	t.Helper()
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func testEvent(version uint64) event.Event {
	return event.Event{
		ID:          "evt-" + string(rune('0'+version)),
		StreamID:    "restaurant-r1-tips-payouts",
		Version:     version,
		Type:        event.TypeTipPaid,
		PayloadJSON: []byte(`{"employeeId":"e1","amount":20.00}`),
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSealAndVerifyChain(t *testing.T) {
	ring := testRing(t)
	first, err := Seal(ring, testEvent(1), "")
	if err != nil {
		t.Fatalf("seal first: %v", err)
	}
	second, err := Seal(ring, testEvent(2), first.ChainHash)
	if err != nil {
		t.Fatalf("seal second: %v", err)
	}
	if second.PrevHash != first.ChainHash {
		t.Fatalf("prev hash = %q, want %q", second.PrevHash, first.ChainHash)
	}
	if err := Verify(ring, first, ""); err != nil {
		t.Fatalf("verify first: %v", err)
	}
	if err := Verify(ring, second, first.ChainHash); err != nil {
		t.Fatalf("verify second: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	ring := testRing(t)
	sealed, err := Seal(ring, testEvent(1), "")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	tampered := sealed
	tampered.PayloadJSON = []byte(`{"employeeId":"e1","amount":2000.00}`)
	if err := Verify(ring, tampered, ""); err == nil {
		t.Fatal("expected payload tampering to be detected")
	}

	reordered := sealed
	if err := Verify(ring, reordered, "somethingelse"); err == nil {
		t.Fatal("expected broken link to be detected")
	}

	resigned := sealed
	resigned.Signature = "00"
	if err := Verify(ring, resigned, ""); err == nil {
		t.Fatal("expected bad signature to be detected")
	}
}

func TestSealRequiresKeyring(t *testing.T) {
	if _, err := Seal(nil, testEvent(1), ""); err == nil {
		t.Fatal("expected error for nil keyring")
	}
}

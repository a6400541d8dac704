package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	x402 "github.com/xignet/x402/go"
)

func sampleRecord(orderID string) x402.SettlementExecutionRecord {
	return x402.SettlementExecutionRecord{
		Confirmation: x402.OrderConfirmation{
			OrderID:     orderID,
			InvoiceID:   "inv_1",
			Status:      "confirmed",
			ConfirmedAt: "2026-01-01T00:00:00Z",
		},
		Receipt: x402.SettlementReceipt{
			ReceiptID:      "rcpt_1",
			InvoiceID:      "inv_1",
			IdempotencyKey: "idem-1",
			TxHash:         "0xabc",
		},
	}
}

func TestFingerprint(t *testing.T) {
	type req struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	f1, err := Fingerprint(req{A: "x", B: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f2, _ := Fingerprint(req{A: "x", B: 1})
	f3, _ := Fingerprint(req{A: "x", B: 2})

	if f1 != f2 {
		t.Errorf("Expected equal requests to share a fingerprint, got %s and %s", f1, f2)
	}
	if f1 == f3 {
		t.Error("Expected different requests to produce different fingerprints")
	}
	if len(f1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(f1))
	}
}

func TestInMemoryStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	inserted, err := store.Set(ctx, "k", Entry{Record: sampleRecord("order_1"), Fingerprint: "fp1"})
	if err != nil || !inserted {
		t.Fatalf("Expected first insert to succeed, got inserted=%v err=%v", inserted, err)
	}

	inserted, err = store.Set(ctx, "k", Entry{Record: sampleRecord("order_2"), Fingerprint: "fp2"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if inserted {
		t.Error("Expected second insert of the same key to be rejected")
	}

	entry, err := store.Get(ctx, "k")
	if err != nil || entry == nil {
		t.Fatalf("Expected stored entry, got %v err=%v", entry, err)
	}
	if entry.Record.Confirmation.OrderID != "order_1" {
		t.Errorf("Expected first writer to win, got %s", entry.Record.Confirmation.OrderID)
	}
	if entry.Fingerprint != "fp1" {
		t.Errorf("Expected fingerprint fp1, got %s", entry.Fingerprint)
	}
	if entry.StoredAt.IsZero() {
		t.Error("Expected StoredAt to be set")
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	_, _ = store.Set(ctx, "k", Entry{Record: sampleRecord("order_1")})

	entry, _ := store.Get(ctx, "k")
	entry.Fingerprint = "mutated"

	again, _ := store.Get(ctx, "k")
	if again.Fingerprint == "mutated" {
		t.Error("Expected Get to return a copy")
	}
}

func TestInMemoryStore_EmptyKey(t *testing.T) {
	store := NewInMemoryStore(0)
	if _, err := store.Set(context.Background(), "", Entry{}); err != ErrEmptyKey {
		t.Errorf("Expected ErrEmptyKey, got %v", err)
	}
}

func TestInMemoryStore_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, _ = store.Set(ctx, "k", Entry{Record: sampleRecord("order_1")})
	if entry, _ := store.Get(ctx, "k"); entry == nil {
		t.Fatal("Expected entry before expiry")
	}

	now = now.Add(2 * time.Minute)
	if entry, _ := store.Get(ctx, "k"); entry != nil {
		t.Error("Expected entry to expire")
	}

	inserted, _ := store.Set(ctx, "k", Entry{Record: sampleRecord("order_2")})
	if !inserted {
		t.Error("Expected insert after expiry to succeed")
	}
}

func TestInMemoryStore_CleanupOnSet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, _ = store.Set(ctx, "a", Entry{})
	_, _ = store.Set(ctx, "b", Entry{})
	now = now.Add(2 * time.Minute)
	_, _ = store.Set(ctx, "c", Entry{})

	if store.Len() != 1 {
		t.Errorf("Expected expired entries to be cleaned up, got %d entries", store.Len())
	}
}

func TestInMemoryStore_ConcurrentSet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := store.Set(ctx, "shared", Entry{Record: sampleRecord("order")})
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if inserted {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one insert to win, got %d", wins)
	}
}

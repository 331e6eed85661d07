package audit

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryLedgerAppendAndHistory(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	first, err := ledger.Append(ctx, Entry{DocumentID: "doc-1", ActorType: ActorSystem, Action: "INGESTED"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == "" || first.Seq != 1 || first.CreatedAt.IsZero() {
		t.Fatalf("expected defaults assigned, got %+v", first)
	}

	if _, err := ledger.Append(ctx, Entry{DocumentID: "doc-1", ActorType: ActorUser, Action: "HIL_CONFIRMED"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := ledger.Append(ctx, Entry{DocumentID: "doc-2", ActorType: ActorSystem, Action: "INGESTED"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := ledger.History(ctx, "doc-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries for doc-1, got %d", len(history))
	}
	if history[0].Action != "INGESTED" || history[1].Action != "HIL_CONFIRMED" {
		t.Fatalf("entries out of append order: %+v", history)
	}
	if history[0].Seq >= history[1].Seq {
		t.Fatalf("sequence numbers must be monotonic: %d then %d", history[0].Seq, history[1].Seq)
	}
}

func TestMemoryLedgerHistoryIsACopy(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	if _, err := ledger.Append(ctx, Entry{DocumentID: "doc-1", ActorType: ActorSystem, Action: "INGESTED"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, _ := ledger.History(ctx, "doc-1")
	history[0].Action = "TAMPERED"

	again, _ := ledger.History(ctx, "doc-1")
	if again[0].Action != "INGESTED" {
		t.Fatalf("ledger entries must be immutable to readers, got %q", again[0].Action)
	}
}

func TestMemoryLedgerConcurrentAppends(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Append(ctx, Entry{DocumentID: "doc-1", ActorType: ActorSystem, Action: "X"}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := ledger.History(ctx, "doc-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != n {
		t.Fatalf("expected %d entries, got %d", n, len(history))
	}
	seen := make(map[int64]bool, n)
	for _, e := range history {
		if seen[e.Seq] {
			t.Fatalf("duplicate sequence number %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

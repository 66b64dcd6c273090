package cell

import (
	"path/filepath"
	"testing"

	"github.com/Rivega42/bookcab/pkg/fault"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := NewInventory(filepath.Join(t.TempDir(), "inventory.json"))
	if err != nil {
		t.Fatalf("NewInventory: %v", err)
	}
	return inv
}

func TestBindReleaseCycle(t *testing.T) {
	inv := newTestInventory(t)
	a := Address{Side: Front, Col: 1, Row: 4}

	if err := inv.Bind(a, "book-1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	st, _ := inv.Get(a)
	if st.Status != StatusOccupied || st.BookID != "book-1" {
		t.Fatalf("after Bind: %+v", st)
	}

	// Double bind must be rejected without touching the cell.
	if err := inv.Bind(a, "book-2"); !fault.IsKind(err, fault.Validation) {
		t.Errorf("double Bind accepted: %v", err)
	}
	st, _ = inv.Get(a)
	if st.BookID != "book-1" {
		t.Errorf("rejected Bind mutated cell: %+v", st)
	}

	if err := inv.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	st, _ = inv.Get(a)
	if st.Status != StatusEmpty || st.BookID != "" {
		t.Errorf("after Release: %+v", st)
	}

	if err := inv.Release(a); !fault.IsKind(err, fault.Validation) {
		t.Errorf("Release of empty cell accepted: %v", err)
	}
}

func TestFindBookAndFirstFree(t *testing.T) {
	inv := newTestInventory(t)
	a := Address{Side: Front, Col: 0, Row: 0}
	b := Address{Side: Front, Col: 0, Row: 1}

	if err := inv.Bind(a, "book-1"); err != nil {
		t.Fatal(err)
	}

	got, ok := inv.FindBook("book-1")
	if !ok || got != a {
		t.Errorf("FindBook = %v, %t", got, ok)
	}
	if _, ok := inv.FindBook("missing"); ok {
		t.Error("FindBook found a book that is not stored")
	}

	free, ok := inv.FirstFree(nil)
	if !ok || free != b {
		t.Errorf("FirstFree = %v, want %v", free, b)
	}

	// Blocking the next free cell skips it.
	free, ok = inv.FirstFree(func(ad Address) bool { return ad == b })
	if !ok || free != (Address{Side: Front, Col: 0, Row: 2}) {
		t.Errorf("FirstFree with filter = %v", free)
	}
}

func TestExtractionFlow(t *testing.T) {
	inv := newTestInventory(t)
	a := Address{Side: Back, Col: 2, Row: 20}

	if err := inv.MarkExtraction(a); !fault.IsKind(err, fault.Validation) {
		t.Errorf("MarkExtraction of empty cell accepted: %v", err)
	}

	if err := inv.Bind(a, "book-9"); err != nil {
		t.Fatal(err)
	}
	if err := inv.MarkExtraction(a); err != nil {
		t.Fatalf("MarkExtraction: %v", err)
	}

	list := inv.ExtractionList()
	if len(list) != 1 || list[0].Address != a || list[0].BookID != "book-9" {
		t.Errorf("ExtractionList = %+v", list)
	}

	// The flagged book is still findable until physically extracted.
	if got, ok := inv.FindBook("book-9"); !ok || got != a {
		t.Errorf("FindBook after flag = %v, %t", got, ok)
	}
}

func TestInventoryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	inv, err := NewInventory(path)
	if err != nil {
		t.Fatal(err)
	}
	a := Address{Side: Back, Col: 1, Row: 10}
	if err := inv.Bind(a, "book-5"); err != nil {
		t.Fatal(err)
	}

	inv2, err := NewInventory(path)
	if err != nil {
		t.Fatal(err)
	}
	st, _ := inv2.Get(a)
	if st.Status != StatusOccupied || st.BookID != "book-5" {
		t.Errorf("reloaded state: %+v", st)
	}
	if got := len(inv2.List()); got != 126 {
		t.Errorf("List() = %d cells, want 126", got)
	}
}

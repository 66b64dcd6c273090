package cell

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/fault"
)

// Status of a cell.
type Status string

const (
	StatusEmpty           Status = "empty"
	StatusOccupied        Status = "occupied"
	StatusReserved        Status = "reserved"
	StatusNeedsExtraction Status = "needs_extraction"
)

// State is one cell's inventory record.
type State struct {
	Address Address `json:"address"`
	Status  Status  `json:"status"`
	BookID  string  `json:"book,omitempty"`
}

// Inventory owns the CellState of all 126 cells. States are created at
// startup, mutated only through the transition methods below (which the
// orchestrator calls after a completed physical operation) and persisted on
// every transition.
type Inventory struct {
	mu       sync.RWMutex
	cells    map[Address]*State
	filepath string
}

// NewInventory loads persisted cell states from path; cells absent from the
// file start empty.
func NewInventory(path string) (*Inventory, error) {
	inv := &Inventory{
		cells:    make(map[Address]*State),
		filepath: path,
	}
	for _, a := range All() {
		inv.cells[a] = &State{Address: a, Status: StatusEmpty}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", path).Info("no inventory file, all cells start empty")
			return inv, nil
		}
		return nil, err
	}

	var stored []State
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fault.New(fault.Validation, "parse inventory file: %v", err)
	}
	for i := range stored {
		st := stored[i]
		if err := st.Address.Valid(); err != nil {
			logrus.WithField("address", st.Address).Warn("dropping inventory record with bad address")
			continue
		}
		inv.cells[st.Address] = &st
	}
	return inv, nil
}

func (inv *Inventory) saveLocked() error {
	out := make([]State, 0, len(inv.cells))
	for _, a := range All() {
		if st := inv.cells[a]; st.Status != StatusEmpty {
			out = append(out, *st)
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(inv.filepath), ".inventory-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), inv.filepath)
}

// Get returns a copy of one cell's state.
func (inv *Inventory) Get(a Address) (State, error) {
	if err := a.Valid(); err != nil {
		return State{}, err
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return *inv.cells[a], nil
}

// List returns a copy of every cell state.
func (inv *Inventory) List() []State {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]State, 0, len(inv.cells))
	for _, a := range All() {
		out = append(out, *inv.cells[a])
	}
	return out
}

// transition applies a guarded status change and persists it.
func (inv *Inventory) transition(a Address, from []Status, to Status, book string) error {
	if err := a.Valid(); err != nil {
		return err
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	st := inv.cells[a]
	ok := false
	for _, f := range from {
		if st.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return fault.New(fault.Validation, "cell %s is %s, cannot transition to %s", a, st.Status, to)
	}

	st.Status = to
	st.BookID = book
	if err := inv.saveLocked(); err != nil {
		return err
	}
	return nil
}

// Bind records a stored book: empty/reserved -> occupied.
func (inv *Inventory) Bind(a Address, bookID string) error {
	if bookID == "" {
		return fault.New(fault.Validation, "empty book id")
	}
	return inv.transition(a, []Status{StatusEmpty, StatusReserved}, StatusOccupied, bookID)
}

// Release clears a cell after its book left the cabinet.
func (inv *Inventory) Release(a Address) error {
	return inv.transition(a, []Status{StatusOccupied, StatusNeedsExtraction, StatusReserved}, StatusEmpty, "")
}

// Reserve holds an empty cell for an in-flight store operation.
func (inv *Inventory) Reserve(a Address) error {
	return inv.transition(a, []Status{StatusEmpty}, StatusReserved, "")
}

// MarkExtraction flags an occupied cell for operator removal, keeping the
// book binding so the extraction list stays meaningful.
func (inv *Inventory) MarkExtraction(a Address) error {
	inv.mu.RLock()
	book := inv.cells[a].BookID
	inv.mu.RUnlock()
	return inv.transition(a, []Status{StatusOccupied}, StatusNeedsExtraction, book)
}

// FindBook returns the cell bound to bookID.
func (inv *Inventory) FindBook(bookID string) (Address, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	for a, st := range inv.cells {
		if st.BookID == bookID && (st.Status == StatusOccupied || st.Status == StatusNeedsExtraction) {
			return a, true
		}
	}
	return Address{}, false
}

// FirstFree returns the first empty cell not excluded by the filter,
// scanning in the stable All() order.
func (inv *Inventory) FirstFree(blocked func(Address) bool) (Address, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	for _, a := range All() {
		if inv.cells[a].Status != StatusEmpty {
			continue
		}
		if blocked != nil && blocked(a) {
			continue
		}
		return a, true
	}
	return Address{}, false
}

// Occupied returns every cell currently holding a book, in stable order.
func (inv *Inventory) Occupied() []State {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := []State{}
	for _, a := range All() {
		if st := inv.cells[a]; st.Status == StatusOccupied {
			out = append(out, *st)
		}
	}
	return out
}

// ExtractionList returns cells flagged needs_extraction, in stable order.
func (inv *Inventory) ExtractionList() []State {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := []State{}
	for _, a := range All() {
		if st := inv.cells[a]; st.Status == StatusNeedsExtraction {
			out = append(out, *st)
		}
	}
	return out
}

// Package bookmanager registers instruments and their order books under a
// single lock and routes market events to the right book.
package bookmanager

import (
	"sort"
	"sync"

	"github.com/fxmdfeed/reutersfeed/internal/book"
	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

// Manager owns every instrument and its order book for the feed.
type Manager struct {
	mu          sync.RWMutex
	instruments map[uint32]*types.Instrument
	books       map[uint32]*book.Book
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{
		instruments: make(map[uint32]*types.Instrument),
		books:       make(map[uint32]*book.Book),
	}
}

// AddInstrument registers instrument. It is an error to register the same
// instrument id twice.
func (m *Manager) AddInstrument(instrument *types.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instruments[instrument.ID]; exists {
		return apperrors.Newf(apperrors.ErrBookAlreadyExists, "instrument %d already registered", instrument.ID)
	}
	m.instruments[instrument.ID] = instrument
	return nil
}

// Instrument returns the registered instrument for id.
func (m *Manager) Instrument(instrumentID uint32) (*types.Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instr, ok := m.instruments[instrumentID]
	return instr, ok
}

// Instruments returns every registered instrument, ordered by id.
func (m *Manager) Instruments() []*types.Instrument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Instrument, 0, len(m.instruments))
	for _, instr := range m.instruments {
		out = append(out, instr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstrumentIDs returns every registered instrument id, sorted ascending.
func (m *Manager) InstrumentIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(m.instruments))
	for id := range m.instruments {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateOrderBook creates an empty book for instrumentID. The instrument
// must already be registered, and may not already have a book.
func (m *Manager) CreateOrderBook(instrumentID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instruments[instrumentID]; !ok {
		return apperrors.Newf(apperrors.ErrInstrumentNotFound, "instrument %d not registered", instrumentID)
	}
	if _, exists := m.books[instrumentID]; exists {
		return apperrors.Newf(apperrors.ErrBookAlreadyExists, "order book for instrument %d already exists", instrumentID)
	}
	m.books[instrumentID] = book.New(instrumentID)
	return nil
}

// OrderBook returns the book registered for instrumentID.
func (m *Manager) OrderBook(instrumentID uint32) (*book.Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[instrumentID]
	return b, ok
}

// OrderBooks returns every registered book, ordered by instrument id.
func (m *Manager) OrderBooks() []*book.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*book.Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID() < out[j].InstrumentID() })
	return out
}

// InstrumentAndBook returns both the instrument and its book for
// instrumentID in one lookup.
func (m *Manager) InstrumentAndBook(instrumentID uint32) (*types.Instrument, *book.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instr, ok := m.instruments[instrumentID]
	if !ok {
		return nil, nil, apperrors.Newf(apperrors.ErrInstrumentNotFound, "instrument %d not registered", instrumentID)
	}
	b, ok := m.books[instrumentID]
	if !ok {
		return nil, nil, apperrors.Newf(apperrors.ErrBookNotFound, "order book for instrument %d not found", instrumentID)
	}
	return instr, b, nil
}

// InstrumentCount returns the number of registered instruments.
func (m *Manager) InstrumentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instruments)
}

// BookCount returns the number of registered books.
func (m *Manager) BookCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books)
}

// ClearAllBooks empties every book's levels, tape, and statistics without
// removing the books themselves.
func (m *Manager) ClearAllBooks() {
	for _, b := range m.OrderBooks() {
		b.Clear()
	}
}

// ResetAllBooks is an alias for ClearAllBooks: both bring every book back
// to its just-created state.
func (m *Manager) ResetAllBooks() {
	m.ClearAllBooks()
}

// ApplyEvent routes event to the book registered for its instrument. An
// event for an instrument with no registered book is a silent no-op.
func (m *Manager) ApplyEvent(event types.MarketEvent) {
	b, ok := m.OrderBook(event.Instrument())
	if !ok {
		return
	}
	b.ApplyEvent(event)
}

// CreateSnapshot builds a snapshot event for instrumentID's current book
// state, capped at maxLevels per side.
func (m *Manager) CreateSnapshot(instrumentID uint32, maxLevels int) (types.Snapshot, error) {
	b, ok := m.OrderBook(instrumentID)
	if !ok {
		return types.Snapshot{}, apperrors.Newf(apperrors.ErrBookNotFound, "no order book for instrument %d", instrumentID)
	}
	return b.CreateSnapshot(maxLevels), nil
}

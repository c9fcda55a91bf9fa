// Package memory is an in-process implementation of the store ports. It is
// used by the CLI fixtures mode and by tests. Transactions work on a copy of
// the state that replaces the live state only when the function succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	nextID      uint
	locations   map[uint]models.Location
	products    map[uint]models.Product
	tanks       map[uint]models.Tank
	methods     map[uint]models.PaymentMethod
	ledgers     map[uint]models.CashLedger
	shifts      []models.ShiftRecord
	meter       []models.MeterHistoryRecord
	sales       []models.SalesHistoryRecord
	breakdown   []models.PaymentBreakdownRecord
	cashEntries []models.CashLedgerEntry
}

func newState() *state {
	return &state{
		nextID:    1,
		locations: make(map[uint]models.Location),
		products:  make(map[uint]models.Product),
		tanks:     make(map[uint]models.Tank),
		methods:   make(map[uint]models.PaymentMethod),
		ledgers:   make(map[uint]models.CashLedger),
	}
}

func (s *state) id() uint {
	id := s.nextID
	s.nextID++
	return id
}

func (s *state) clone() *state {
	c := &state{
		nextID:      s.nextID,
		locations:   make(map[uint]models.Location, len(s.locations)),
		products:    make(map[uint]models.Product, len(s.products)),
		tanks:       make(map[uint]models.Tank, len(s.tanks)),
		methods:     make(map[uint]models.PaymentMethod, len(s.methods)),
		ledgers:     make(map[uint]models.CashLedger, len(s.ledgers)),
		shifts:      append([]models.ShiftRecord(nil), s.shifts...),
		meter:       append([]models.MeterHistoryRecord(nil), s.meter...),
		sales:       append([]models.SalesHistoryRecord(nil), s.sales...),
		breakdown:   append([]models.PaymentBreakdownRecord(nil), s.breakdown...),
		cashEntries: append([]models.CashLedgerEntry(nil), s.cashEntries...),
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.tanks {
		c.tanks[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	for k, v := range s.ledgers {
		c.ledgers[k] = v
	}
	return c
}

// Store keeps all entities in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	data     *state
	failures map[string]error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: newState(), failures: make(map[string]error)}
}

// FailOn makes the named UnitOfWork operation return err, for example
// "AppendCashEntries". Used to exercise rollbacks.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// AddLocation seeds a location. A zero ID is assigned automatically.
func (s *Store) AddLocation(l models.Location) models.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.data.id()
	} else if l.ID >= s.data.nextID {
		s.data.nextID = l.ID + 1
	}
	s.data.locations[l.ID] = l
	return l
}

// AddProduct seeds a product.
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.data.id()
	} else if p.ID >= s.data.nextID {
		s.data.nextID = p.ID + 1
	}
	s.data.products[p.ID] = p
	return p
}

// AddTank seeds a tank.
func (s *Store) AddTank(t models.Tank) models.Tank {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.data.id()
	} else if t.ID >= s.data.nextID {
		s.data.nextID = t.ID + 1
	}
	s.data.tanks[t.ID] = t
	return t
}

// AddPaymentMethod seeds a payment method.
func (s *Store) AddPaymentMethod(m models.PaymentMethod) models.PaymentMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.data.id()
	} else if m.ID >= s.data.nextID {
		s.data.nextID = m.ID + 1
	}
	s.data.methods[m.ID] = m
	return m
}

// AddCashLedger seeds a cash ledger.
func (s *Store) AddCashLedger(l models.CashLedger) models.CashLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.data.id()
	} else if l.ID >= s.data.nextID {
		s.data.nextID = l.ID + 1
	}
	s.data.ledgers[l.ID] = l
	return l
}

func (s *Store) FindLocation(ctx context.Context, id uint) (*models.Location, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.data.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *Store) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.productByCode(code)
}

func (st *state) productByCode(code string) (*models.Product, error) {
	for _, p := range st.products {
		if p.Code == code && p.Active {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindActiveTank(ctx context.Context, productID, locationID uint) (*models.Tank, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint, 0, len(s.data.tanks))
	for id := range s.data.tanks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := s.data.tanks[id]
		if t.ProductID == productID && t.LocationID == locationID && t.Active {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindTank(ctx context.Context, id uint) (*models.Tank, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.tanks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) FindMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	code = models.NormalizeMethodCode(code)
	for _, m := range s.data.methods {
		if models.NormalizeMethodCode(m.Code) == code && m.Active {
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindShiftByKey(ctx context.Context, key models.ShiftKey) (*models.ShiftRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.data.shifts {
		if rec.Key() == key {
			rec := rec
			return &rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ConsolidatedPaymentMode(ctx context.Context, locationID uint) (bool, error) {
	l, err := s.FindLocation(ctx, locationID)
	if err != nil {
		return false, err
	}
	return l.ConsolidatedPaymentMode, nil
}

// WithinTransaction serializes transactions and runs fn against a copy of
// the state. The copy replaces the live state only when fn returns nil.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	failures := make(map[string]error, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	s.mu.RUnlock()

	if err := fn(ctx, &unitOfWork{st: work, failures: failures}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

type unitOfWork struct {
	st       *state
	failures map[string]error
}

func (u *unitOfWork) fail(op string) error {
	return u.failures[op]
}

func (u *unitOfWork) CreateShift(ctx context.Context, shift *models.ShiftRecord) error {
	if err := u.fail("CreateShift"); err != nil {
		return err
	}
	for _, rec := range u.st.shifts {
		if rec.Key() == shift.Key() {
			return store.ErrDuplicateShift
		}
	}
	shift.ID = u.st.id()
	if shift.CreatedAt.IsZero() {
		shift.CreatedAt = time.Now()
	}
	rec := *shift
	rec.Payload = snapshot(shift.Payload)
	u.st.shifts = append(u.st.shifts, rec)
	return nil
}

func (u *unitOfWork) SaveShiftPayload(ctx context.Context, shiftID uint, payload *models.ClosureResult) error {
	if err := u.fail("SaveShiftPayload"); err != nil {
		return err
	}
	for i := range u.st.shifts {
		if u.st.shifts[i].ID == shiftID {
			u.st.shifts[i].Payload = snapshot(payload)
			return nil
		}
	}
	return store.ErrNotFound
}

// snapshot copies a payload so later changes to the caller's result are not
// visible through the stored record.
func snapshot(payload *models.ClosureResult) *models.ClosureResult {
	if payload == nil {
		return nil
	}
	c := *payload
	if payload.ShiftID != nil {
		id := *payload.ShiftID
		c.ShiftID = &id
	}
	c.Errors = append([]models.Issue(nil), payload.Errors...)
	c.Warnings = append([]models.Issue(nil), payload.Warnings...)
	c.Cash.Applied = append([]models.CashEntryEffect(nil), payload.Cash.Applied...)
	c.Cash.Discarded = append([]models.CashEntryEffect(nil), payload.Cash.Discarded...)
	return &c
}

func (u *unitOfWork) AppendMeterHistory(ctx context.Context, records []models.MeterHistoryRecord) error {
	if err := u.fail("AppendMeterHistory"); err != nil {
		return err
	}
	for i := range records {
		records[i].ID = u.st.id()
		u.st.meter = append(u.st.meter, records[i])
	}
	return nil
}

func (u *unitOfWork) AppendSalesHistory(ctx context.Context, records []models.SalesHistoryRecord) error {
	if err := u.fail("AppendSalesHistory"); err != nil {
		return err
	}
	for i := range records {
		records[i].ID = u.st.id()
		u.st.sales = append(u.st.sales, records[i])
	}
	return nil
}

func (u *unitOfWork) AppendPaymentBreakdown(ctx context.Context, records []models.PaymentBreakdownRecord) error {
	if err := u.fail("AppendPaymentBreakdown"); err != nil {
		return err
	}
	for i := range records {
		records[i].ID = u.st.id()
		u.st.breakdown = append(u.st.breakdown, records[i])
	}
	return nil
}

func (u *unitOfWork) AdjustStock(ctx context.Context, productID uint, qty decimal.Decimal, dir store.Direction) error {
	if err := u.fail("AdjustStock"); err != nil {
		return err
	}
	p, ok := u.st.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if dir == store.Decrement {
		if p.CurrentStock.LessThan(qty) {
			return store.ErrInsufficientStock
		}
		p.CurrentStock = p.CurrentStock.Sub(qty)
	} else {
		p.CurrentStock = p.CurrentStock.Add(qty)
	}
	p.UpdatedAt = time.Now()
	u.st.products[productID] = p
	return nil
}

func (u *unitOfWork) UpdateTankLevel(ctx context.Context, tankID uint, level, occupancy decimal.Decimal) error {
	if err := u.fail("UpdateTankLevel"); err != nil {
		return err
	}
	t, ok := u.st.tanks[tankID]
	if !ok {
		return store.ErrNotFound
	}
	t.CurrentLevel = level
	t.Occupancy = occupancy
	t.UpdatedAt = time.Now()
	u.st.tanks[tankID] = t
	return nil
}

func (u *unitOfWork) GetOrCreateCashLedger(ctx context.Context, locationID uint) (*models.CashLedger, error) {
	if err := u.fail("GetOrCreateCashLedger"); err != nil {
		return nil, err
	}
	for _, l := range u.st.ledgers {
		if l.LocationID == locationID {
			return &l, nil
		}
	}
	l := models.CashLedger{ID: u.st.id(), LocationID: locationID, Balance: decimal.Zero, CreatedAt: time.Now()}
	u.st.ledgers[l.ID] = l
	return &l, nil
}

func (u *unitOfWork) AppendCashEntries(ctx context.Context, entries []models.CashLedgerEntry) error {
	if err := u.fail("AppendCashEntries"); err != nil {
		return err
	}
	for i := range entries {
		entries[i].ID = u.st.id()
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = time.Now()
		}
		u.st.cashEntries = append(u.st.cashEntries, entries[i])
	}
	return nil
}

func (u *unitOfWork) UpdateCashBalance(ctx context.Context, ledgerID uint, balance decimal.Decimal) error {
	if err := u.fail("UpdateCashBalance"); err != nil {
		return err
	}
	l, ok := u.st.ledgers[ledgerID]
	if !ok {
		return store.ErrNotFound
	}
	l.Balance = balance
	l.UpdatedAt = time.Now()
	u.st.ledgers[ledgerID] = l
	return nil
}

// Shifts returns a copy of the persisted shift records.
func (s *Store) Shifts() []models.ShiftRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ShiftRecord(nil), s.data.shifts...)
}

// MeterHistory returns a copy of the persisted meter history.
func (s *Store) MeterHistory() []models.MeterHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MeterHistoryRecord(nil), s.data.meter...)
}

// SalesHistory returns a copy of the persisted sales history.
func (s *Store) SalesHistory() []models.SalesHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SalesHistoryRecord(nil), s.data.sales...)
}

// PaymentBreakdown returns a copy of the persisted payment breakdown rows.
func (s *Store) PaymentBreakdown() []models.PaymentBreakdownRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PaymentBreakdownRecord(nil), s.data.breakdown...)
}

// CashEntries returns a copy of the persisted cash ledger entries.
func (s *Store) CashEntries() []models.CashLedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CashLedgerEntry(nil), s.data.cashEntries...)
}

// CashLedger returns the ledger of a location.
func (s *Store) CashLedger(locationID uint) (*models.CashLedger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.data.ledgers {
		if l.LocationID == locationID {
			return &l, true
		}
	}
	return nil, false
}

// Product returns the current state of a product by code.
func (s *Store) Product(code string) (*models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.data.productByCode(code)
	return p, err == nil
}

// Tank returns the current state of a tank.
func (s *Store) Tank(id uint) (*models.Tank, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.tanks[id]
	return &t, ok
}

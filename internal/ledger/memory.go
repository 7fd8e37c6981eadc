package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps the whole ledger in process. A Tx holds the store mutex for
// its lifetime and edits a private copy, so units are fully serialized. Store
// reads must not be called from inside a unit.
type MemoryStore struct {
	mu    sync.Mutex
	clock Clock
	state *memState
}

type memState struct {
	nextID      int64
	accounts    map[string]*models.WalletAccount
	txns        map[int64]*models.Transaction
	byRef       map[string]int64
	byTxRef     map[string]int64
	holds       map[string]*models.EscrowHold
	withdrawals map[string]*models.WithdrawalRequest
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = RealClock{}
	}
	return &MemoryStore{
		clock: clock,
		state: &memState{
			accounts:    make(map[string]*models.WalletAccount),
			txns:        make(map[int64]*models.Transaction),
			byRef:       make(map[string]int64),
			byTxRef:     make(map[string]int64),
			holds:       make(map[string]*models.EscrowHold),
			withdrawals: make(map[string]*models.WithdrawalRequest),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:      s.nextID,
		accounts:    make(map[string]*models.WalletAccount, len(s.accounts)),
		txns:        make(map[int64]*models.Transaction, len(s.txns)),
		byRef:       make(map[string]int64, len(s.byRef)),
		byTxRef:     make(map[string]int64, len(s.byTxRef)),
		holds:       make(map[string]*models.EscrowHold, len(s.holds)),
		withdrawals: make(map[string]*models.WithdrawalRequest, len(s.withdrawals)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v.Clone()
	}
	for k, v := range s.txns {
		c.txns[k] = v.Clone()
	}
	for k, v := range s.byRef {
		c.byRef[k] = v
	}
	for k, v := range s.byTxRef {
		c.byTxRef[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v.Clone()
	}
	for k, v := range s.withdrawals {
		w := *v
		c.withdrawals[k] = &w
	}
	return c
}

func (m *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memTx{store: m, state: m.state.clone()}, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID string) (*models.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[userID]
	if !ok {
		return nil, Errorf(ErrNotFound, "wallet account for %s not found", userID)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.byRef[reference]
	if !ok {
		return nil, Errorf(ErrNotFound, "transaction %s not found", reference)
	}
	return m.state.txns[id].Clone(), nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Transaction
	for _, t := range m.state.txns {
		if t.UserID != userID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.From != nil && t.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if filter.PageSize > 0 && filter.PageSize < total-start {
		end = start + filter.PageSize
	}
	items := make([]models.Transaction, 0, end-start)
	for _, t := range matched[start:end] {
		items = append(items, *t.Clone())
	}
	return items, total, nil
}

func (m *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*models.Transaction
	for _, t := range m.state.txns {
		if t.Status != models.StatusPending || !t.CreatedAt.Before(before) {
			continue
		}
		if t.Type == models.TypeDeposit || t.Type == models.TypeWithdrawal {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	out := make([]models.Transaction, 0, len(stale))
	for _, t := range stale {
		out = append(out, *t.Clone())
	}
	return out, nil
}

func (m *MemoryStore) GetEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.state.holds[tradeID]
	if !ok {
		return nil, Errorf(ErrNotFound, "escrow hold %s not found", tradeID)
	}
	return h.Clone(), nil
}

func (m *MemoryStore) GetWithdrawalRequest(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.withdrawals[reference]
	if !ok {
		return nil, Errorf(ErrNotFound, "withdrawal request %s not found", reference)
	}
	c := *w
	return &c, nil
}

type memTx struct {
	store *MemoryStore
	state *memState
	done  bool
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.state = t.state
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) now() time.Time { return t.store.clock.Now() }

func (t *memTx) LockAccount(ctx context.Context, userID string) (*models.WalletAccount, error) {
	a, ok := t.state.accounts[userID]
	if !ok {
		now := t.now()
		a = &models.WalletAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
		t.state.accounts[userID] = a
	}
	return a.Clone(), nil
}

func (t *memTx) SaveAccount(ctx context.Context, account *models.WalletAccount) error {
	if _, ok := t.state.accounts[account.UserID]; !ok {
		return Errorf(ErrNotFound, "wallet account for %s not found", account.UserID)
	}
	t.state.accounts[account.UserID] = account.Clone()
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, ok := t.state.byRef[txn.Reference]; ok {
		return Errorf(ErrDuplicateReference, "reference %s already exists", txn.Reference)
	}
	if txn.TxRef != nil {
		if _, ok := t.state.byTxRef[*txn.TxRef]; ok {
			return Errorf(ErrDuplicateReference, "gateway reference %s already exists", *txn.TxRef)
		}
	}
	if txn.Type == models.TypeRelease || txn.Type == models.TypeRefund {
		if txn.TradeID != nil {
			for _, other := range t.state.txns {
				if other.TradeID != nil && *other.TradeID == *txn.TradeID &&
					(other.Type == models.TypeRelease || other.Type == models.TypeRefund) {
					return Errorf(ErrDuplicateReference, "trade %s is already resolved", *txn.TradeID)
				}
			}
		}
	}

	t.state.nextID++
	now := t.now()
	txn.ID = t.state.nextID
	txn.CreatedAt = now
	txn.UpdatedAt = now
	t.state.txns[txn.ID] = txn.Clone()
	t.state.byRef[txn.Reference] = txn.ID
	if txn.TxRef != nil {
		t.state.byTxRef[*txn.TxRef] = txn.ID
	}
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	id, ok := t.state.byRef[reference]
	if !ok {
		return nil, Errorf(ErrNotFound, "transaction %s not found", reference)
	}
	return t.state.txns[id].Clone(), nil
}

func (t *memTx) CompareAndSetStatus(ctx context.Context, id int64, from, to models.TransactionStatus) (bool, error) {
	txn, ok := t.state.txns[id]
	if !ok || txn.Status != from {
		return false, nil
	}
	txn.Status = to
	txn.UpdatedAt = t.now()
	return true, nil
}

func (t *memTx) SetTxRef(ctx context.Context, id int64, txRef string) error {
	txn, ok := t.state.txns[id]
	if !ok {
		return Errorf(ErrNotFound, "transaction %d not found", id)
	}
	if owner, ok := t.state.byTxRef[txRef]; ok && owner != id {
		return Errorf(ErrDuplicateReference, "gateway reference %s already exists", txRef)
	}
	if txn.TxRef != nil {
		delete(t.state.byTxRef, *txn.TxRef)
	}
	ref := txRef
	txn.TxRef = &ref
	txn.UpdatedAt = t.now()
	t.state.byTxRef[txRef] = id
	return nil
}

func (t *memTx) SetDescription(ctx context.Context, id int64, description string) error {
	txn, ok := t.state.txns[id]
	if !ok {
		return Errorf(ErrNotFound, "transaction %d not found", id)
	}
	txn.Description = description
	txn.UpdatedAt = t.now()
	return nil
}

func (t *memTx) LedgerSums(ctx context.Context, userID string) ([]models.LedgerSum, error) {
	type key struct {
		typ    models.TransactionType
		status models.TransactionStatus
	}
	totals := make(map[key]decimal.Decimal)
	for _, txn := range t.state.txns {
		if txn.UserID != userID {
			continue
		}
		k := key{txn.Type, txn.Status}
		totals[k] = totals[k].Add(txn.Amount)
	}
	sums := make([]models.LedgerSum, 0, len(totals))
	for k, total := range totals {
		sums = append(sums, models.LedgerSum{Type: k.typ, Status: k.status, Total: total})
	}
	sort.Slice(sums, func(i, j int) bool {
		if sums[i].Type == sums[j].Type {
			return sums[i].Status < sums[j].Status
		}
		return sums[i].Type < sums[j].Type
	})
	return sums, nil
}

func (t *memTx) InsertEscrowHold(ctx context.Context, hold *models.EscrowHold) error {
	if _, ok := t.state.holds[hold.TradeID]; ok {
		return Errorf(ErrDuplicateReference, "trade %s already has an escrow hold", hold.TradeID)
	}
	hold.CreatedAt = t.now()
	t.state.holds[hold.TradeID] = hold.Clone()
	return nil
}

func (t *memTx) LockEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error) {
	h, ok := t.state.holds[tradeID]
	if !ok {
		return nil, Errorf(ErrNotFound, "escrow hold %s not found", tradeID)
	}
	return h.Clone(), nil
}

func (t *memTx) CompareAndSetHoldStatus(ctx context.Context, tradeID string, from, to models.HoldStatus, resolutionRef string) (bool, error) {
	h, ok := t.state.holds[tradeID]
	if !ok || h.Status != from {
		return false, nil
	}
	now := t.now()
	h.Status = to
	h.ResolutionReference = resolutionRef
	h.ResolvedAt = &now
	return true, nil
}

func (t *memTx) HeldEscrowTotal(ctx context.Context, buyerID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, h := range t.state.holds {
		if h.BuyerID == buyerID && h.Status == models.HoldHeld {
			total = total.Add(h.Amount)
		}
	}
	return total, nil
}

func (t *memTx) InsertWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error {
	if _, ok := t.state.withdrawals[req.Reference]; ok {
		return Errorf(ErrDuplicateReference, "withdrawal %s already exists", req.Reference)
	}
	req.CreatedAt = t.now()
	c := *req
	t.state.withdrawals[req.Reference] = &c
	return nil
}

func (t *memTx) SetPayoutID(ctx context.Context, reference, payoutID string) error {
	w, ok := t.state.withdrawals[reference]
	if !ok {
		return Errorf(ErrNotFound, "withdrawal request %s not found", reference)
	}
	w.PayoutID = payoutID
	return nil
}

func (t *memTx) DeleteWithdrawalRequest(ctx context.Context, reference string) error {
	delete(t.state.withdrawals, reference)
	return nil
}

package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/repository"
)

// fakeRecords is an in-memory PaymentRecordStore.
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*models.PaymentRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]*models.PaymentRecord)}
}

func (f *fakeRecords) InsertPending(_ context.Context, record *models.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.TransactionID]; ok {
		return fmt.Errorf("%w: %s", repository.ErrDuplicateRecord, record.TransactionID)
	}
	stored := *record
	stored.Status = models.StatusPending
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	f.records[record.TransactionID] = &stored
	return nil
}

func (f *fakeRecords) UpdateStatus(_ context.Context, transactionID string, status models.PaymentStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[transactionID]
	if !ok || record.Status != models.StatusPending {
		return 0, nil
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	return 1, nil
}

func (f *fakeRecords) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[transactionID]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRecords) GetPendingByUser(_ context.Context, userID string, _ time.Duration) ([]*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PaymentRecord
	for _, record := range f.records {
		if record.UserID == userID && record.Status == models.StatusPending {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRecords) RebindTransactionID(_ context.Context, oldID, newID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[oldID]
	if !ok || record.Status != models.StatusPending {
		return 0, nil
	}
	if _, exists := f.records[newID]; exists {
		return 0, fmt.Errorf("%w: %s", repository.ErrDuplicateRecord, newID)
	}
	delete(f.records, oldID)
	record.TransactionID = newID
	f.records[newID] = record
	return 1, nil
}

// fakeLedger is an in-memory CreditLedger. addFailures makes the next N Add
// calls fail with a storage error.
type fakeLedger struct {
	mu          sync.Mutex
	balances    map[string]int64
	addFailures int
	addCalls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (f *fakeLedger) GetBalance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) Add(_ context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addFailures > 0 {
		f.addFailures--
		return fmt.Errorf("simulated storage failure")
	}
	f.balances[userID] += amount
	return nil
}

func (f *fakeLedger) Deduct(_ context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return repository.ErrInsufficientBalance
	}
	f.balances[userID] -= amount
	return nil
}

// fakeVerifier returns a scripted error and counts calls.
type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Confirm(context.Context, string) error {
	f.calls++
	return f.err
}

// fakeCrossChecker returns a scripted result and counts calls.
type fakeCrossChecker struct {
	result models.VerificationResult
	calls  int
}

func newPassingCrossChecker() *fakeCrossChecker {
	return &fakeCrossChecker{result: models.VerificationResult{
		Success: true, RecipientMatch: true, TokenMatch: true, AmountMatch: true,
	}}
}

func (f *fakeCrossChecker) CrossCheck(context.Context, string, string, string, int64, int64) models.VerificationResult {
	f.calls++
	return f.result
}

// fakeLock records acquisitions; denied makes every Acquire report the lock
// as held elsewhere.
type fakeLock struct {
	mu     sync.Mutex
	held   map[string]bool
	denied bool
	err    error
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (f *fakeLock) Acquire(_ context.Context, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.denied || f.held[transactionID] {
		return false, nil
	}
	f.held[transactionID] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, transactionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, transactionID)
}

// fakePublisher remembers every event.
type fakePublisher struct {
	mu     sync.Mutex
	events []models.SettlementEvent
}

func (f *fakePublisher) PublishSettlement(_ context.Context, event models.SettlementEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) last() *models.SettlementEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	event := f.events[len(f.events)-1]
	return &event
}

package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/plushify/plushify/pkg/credit"
)

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	keys     map[string]bool
	debits   int
	credits  int

	debitError  error
	creditError error
}

func newFakeLedger(accountID string, balance int64) *fakeLedger {
	return &fakeLedger{
		balances: map[string]int64{accountID: balance},
		keys:     map[string]bool{},
	}
}

func (ledger *fakeLedger) HasSufficient(ctx context.Context, accountID string, required int64) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return ledger.balances[accountID] >= required
}

func (ledger *fakeLedger) Debit(ctx context.Context, accountID string, amount int64, kind credit.Kind, metadata credit.Metadata) (int64, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.debitError != nil {
		return 0, ledger.debitError
	}
	if ledger.balances[accountID] < amount {
		return 0, credit.ErrInsufficientBalance
	}
	ledger.balances[accountID] -= amount
	ledger.debits++
	return ledger.balances[accountID], nil
}

func (ledger *fakeLedger) CreditKeyed(ctx context.Context, accountID string, amount int64, kind credit.Kind, key string, metadata credit.Metadata) (int64, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.creditError != nil {
		return 0, ledger.creditError
	}
	if ledger.keys[key] {
		return ledger.balances[accountID], nil
	}
	ledger.keys[key] = true
	ledger.balances[accountID] += amount
	ledger.credits++
	return ledger.balances[accountID], nil
}

func (ledger *fakeLedger) balance(accountID string) int64 {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return ledger.balances[accountID]
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*Job{}}
}

func (store *fakeJobStore) CreateJob(ctx context.Context, job Job) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	stored := job
	store.jobs[job.JobID] = &stored
	return nil
}

func (store *fakeJobStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (store *fakeJobStore) UpdateJobStatus(ctx context.Context, jobID string, from Status, to Status, resultRef string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != from || !CanTransition(from, to) {
		return ErrJobClosed
	}
	job.Status = to
	if resultRef != "" {
		job.ResultImageRef = resultRef
	}
	return nil
}

func (store *fakeJobStore) SetFavorite(ctx context.Context, jobID string, favorite bool) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.IsFavorite = favorite
	return nil
}

func (store *fakeJobStore) MarkRefunded(ctx context.Context, jobID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Refunded = true
	return nil
}

func (store *fakeJobStore) DeleteJob(ctx context.Context, jobID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(store.jobs, jobID)
	return nil
}

func (store *fakeJobStore) ListJobs(ctx context.Context, accountID string, limit int, offset int) ([]Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	owned := make([]Job, 0)
	for _, job := range store.jobs {
		if job.AccountID == accountID {
			owned = append(owned, *job)
		}
	}
	sort.Slice(owned, func(left, right int) bool {
		return owned[left].CreatedUnixUTC > owned[right].CreatedUnixUTC
	})
	if offset >= len(owned) {
		return nil, nil
	}
	owned = owned[offset:]
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (store *fakeJobStore) ListUnrefundedFailedJobs(ctx context.Context, limit int) ([]Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]Job, 0)
	for _, job := range store.jobs {
		if job.Status == StatusFailed && !job.Refunded && len(matched) < limit {
			matched = append(matched, *job)
		}
	}
	return matched, nil
}

func (store *fakeJobStore) ListStaleProcessingJobs(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]Job, 0)
	for _, job := range store.jobs {
		if job.Status == StatusProcessing && job.CreatedUnixUTC < createdBeforeUnixUTC && len(matched) < limit {
			matched = append(matched, *job)
		}
	}
	return matched, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	counter int

	saveError   error
	loadError   error
	deleteError error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (store *fakeBlobStore) Save(ctx context.Context, data []byte, path string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saveError != nil {
		return "", store.saveError
	}
	store.counter++
	url := fmt.Sprintf("blob://%s#%d", path, store.counter)
	store.blobs[url] = data
	return url, nil
}

func (store *fakeBlobStore) Load(ctx context.Context, url string) ([]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.loadError != nil {
		return nil, store.loadError
	}
	data, ok := store.blobs[url]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", url)
	}
	return data, nil
}

func (store *fakeBlobStore) Delete(ctx context.Context, url string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deleteError != nil {
		return store.deleteError
	}
	delete(store.blobs, url)
	return nil
}

func (store *fakeBlobStore) size() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.blobs)
}

type fakeTransformer struct {
	result TransformResult
	err    error
	calls  int
}

func (transformer *fakeTransformer) Transform(ctx context.Context, image []byte, instruction string) (TransformResult, error) {
	transformer.calls++
	if transformer.err != nil {
		return TransformResult{}, transformer.err
	}
	return transformer.result, nil
}

type managerFixture struct {
	manager     *Manager
	jobs        *fakeJobStore
	ledger      *fakeLedger
	blobs       *fakeBlobStore
	transformer *fakeTransformer
}

func newManagerFixture(test *testing.T, accountID string, balance int64, options ...ManagerOption) *managerFixture {
	test.Helper()
	fixture := &managerFixture{
		jobs:        newFakeJobStore(),
		ledger:      newFakeLedger(accountID, balance),
		blobs:       newFakeBlobStore(),
		transformer: &fakeTransformer{result: TransformResult{Image: []byte("png-bytes")}},
	}
	manager, err := NewManager(fixture.jobs, fixture.ledger, fixture.blobs, fixture.transformer, zap.NewNop(), func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new manager: %v", err)
	}
	fixture.manager = manager
	return fixture
}

func (fixture *managerFixture) mustSubmit(test *testing.T, accountID string) string {
	test.Helper()
	jobID, err := fixture.manager.Submit(context.Background(), accountID, []byte("source-bytes"), "photo.png", StyleCute, SizeMedium)
	if err != nil {
		test.Fatalf("submit: %v", err)
	}
	return jobID
}

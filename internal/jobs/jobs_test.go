package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type fakeRunRepo struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*types.JobRun
	heartbeats int

	// blindDedupeReads makes GetActiveByDedupeKey always miss, simulating
	// two enqueues whose reads both complete before either insert.
	blindDedupeReads bool
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{jobs: make(map[uuid.UUID]*types.JobRun)}
}

func (f *fakeRunRepo) jobStatus(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (f *fakeRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range jobs {
		// mirror of the partial unique index on active dedupe keys
		if j.DedupeKey != "" && f.activeKeyHeldLocked(j.DedupeKey) {
			return nil, gorm.ErrDuplicatedKey
		}
		f.jobs[j.ID] = j
	}
	return jobs, nil
}

func (f *fakeRunRepo) activeKeyHeldLocked(key string) bool {
	for _, j := range f.jobs {
		if j.DedupeKey == key && (j.Status == types.JobStatusQueued || j.Status == types.JobStatusRunning) {
			return true
		}
	}
	return false
}

func (f *fakeRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.JobRun
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) GetLatestByEntity(ctx context.Context, tx *gorm.DB, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.JobRun
	for _, j := range f.jobs {
		if j.EntityType != entityType || j.JobType != jobType || j.EntityID == nil || *j.EntityID != entityID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	return latest, nil
}

func (f *fakeRunRepo) GetActiveByDedupeKey(ctx context.Context, tx *gorm.DB, dedupeKey string) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blindDedupeReads {
		return nil, nil
	}
	for _, j := range f.jobs {
		if j.DedupeKey == dedupeKey && (j.Status == types.JobStatusQueued || j.Status == types.JobStatusRunning) {
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, jobType string, staleRunning time.Duration) (*types.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, j := range f.jobs {
		if j.JobType != jobType || j.Status != types.JobStatusQueued {
			continue
		}
		if j.RunAfter != nil && j.RunAfter.After(now) {
			continue
		}
		j.Status = types.JobStatusRunning
		j.Attempts++
		return j, nil
	}
	return nil, nil
}

func (f *fakeRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked(id, updates)
}

func (f *fakeRunRepo) updateLocked(id uuid.UUID, updates map[string]interface{}) error {
	j, ok := f.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if s, ok := updates["status"].(string); ok {
		j.Status = s
	}
	if s, ok := updates["stage"].(string); ok {
		j.Stage = s
	}
	if p, ok := updates["progress"].(int); ok {
		j.Progress = p
	}
	if e, ok := updates["error"].(string); ok {
		j.Error = e
	}
	if ra, ok := updates["run_after"].(time.Time); ok {
		j.RunAfter = &ra
	}
	return nil
}

func (f *fakeRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return false, nil
	}
	for _, ex := range excluded {
		if j.Status == ex {
			return false, nil
		}
	}
	return true, f.updateLocked(id, updates)
}

func (f *fakeRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  int
	progress []string
	failed   []bool
	done     int
}

func (r *recordingNotifier) JobCreated(job *types.JobRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}
func (r *recordingNotifier) JobProgress(job *types.JobRun, stage string, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, stage)
}
func (r *recordingNotifier) JobFailed(job *types.JobRun, stage string, errMsg string, terminal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, terminal)
}
func (r *recordingNotifier) JobDone(job *types.JobRun, result map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	repo := newFakeRunRepo()
	notifier := &recordingNotifier{}
	svc := NewService(logger.NewNop(), repo, notifier)

	materialID := uuid.New()
	in := EnqueueInput{
		OwnerUserID: uuid.New(),
		JobType:     types.JobTypeExtraction,
		EntityType:  "material",
		EntityID:    &materialID,
		DedupeKey:   types.ExtractionDedupeKey(materialID),
		Payload:     map[string]any{"material_id": materialID.String()},
	}
	first, err := svc.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if first.Status != types.JobStatusQueued {
		t.Fatalf("status = %q, want queued", first.Status)
	}
	if notifier.created != 1 {
		t.Fatalf("created events = %d, want 1", notifier.created)
	}

	if _, err := svc.Enqueue(context.Background(), in); !errors.Is(err, apperr.ErrDuplicateJob) {
		t.Fatalf("second enqueue err = %v, want ErrDuplicateJob", err)
	}

	// Once the first run is terminal the key frees up.
	first.Status = types.JobStatusFailed
	if _, err := svc.Enqueue(context.Background(), in); err != nil {
		t.Fatalf("enqueue after terminal run: %v", err)
	}
}

func TestEnqueueDedupeRaceLoserGetsDuplicate(t *testing.T) {
	// Both dedupe reads complete before either insert; the unique constraint
	// on active keys decides the winner and the loser sees ErrDuplicateJob.
	repo := newFakeRunRepo()
	repo.blindDedupeReads = true
	svc := NewService(logger.NewNop(), repo, &recordingNotifier{})

	materialID := uuid.New()
	in := EnqueueInput{
		OwnerUserID: uuid.New(),
		JobType:     types.JobTypeExtraction,
		EntityType:  "material",
		EntityID:    &materialID,
		DedupeKey:   types.ExtractionDedupeKey(materialID),
	}
	if _, err := svc.Enqueue(context.Background(), in); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), in); !errors.Is(err, apperr.ErrDuplicateJob) {
		t.Fatalf("racing enqueue err = %v, want ErrDuplicateJob", err)
	}
}

func TestEnqueueConcurrentSameKeySingleWinner(t *testing.T) {
	repo := newFakeRunRepo()
	svc := NewService(logger.NewNop(), repo, &recordingNotifier{})

	materialID := uuid.New()
	in := EnqueueInput{
		OwnerUserID: uuid.New(),
		JobType:     types.JobTypeExtraction,
		EntityType:  "material",
		EntityID:    &materialID,
		DedupeKey:   types.ExtractionDedupeKey(materialID),
	}

	const n = 8
	errs := make(chan error, n)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < n; i++ {
		go func() {
			start.Wait()
			_, err := svc.Enqueue(context.Background(), in)
			errs <- err
		}()
	}
	start.Done()

	won, dup := 0, 0
	for i := 0; i < n; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, apperr.ErrDuplicateJob):
			dup++
		default:
			t.Fatalf("enqueue err = %v", err)
		}
	}
	if won != 1 || dup != n-1 {
		t.Fatalf("winners = %d, duplicates = %d, want 1 and %d", won, dup, n-1)
	}
}

func TestRegistryRejectsDuplicateType(t *testing.T) {
	r := NewRegistry()
	h := Handler{Type: "x", Run: func(rc *Context) error { return nil }}
	if err := r.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(h); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, ok := r.Get("x"); !ok {
		t.Fatalf("registered handler not found")
	}
	if _, ok := r.Get("y"); ok {
		t.Fatalf("unknown handler returned")
	}
}

func runContextFixture(t *testing.T, attempts int, policy RetryPolicy) (*Context, *fakeRunRepo, *recordingNotifier) {
	t.Helper()
	repo := newFakeRunRepo()
	notifier := &recordingNotifier{}
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     types.JobTypeExtraction,
		Status:      types.JobStatusRunning,
		Attempts:    attempts,
		Payload:     []byte(`{"material_id":"` + uuid.New().String() + `"}`),
	}
	repo.jobs[job.ID] = job
	return NewContext(context.Background(), logger.NewNop(), job, repo, notifier, policy), repo, notifier
}

func TestFailRequeuesWithBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Second}
	rc, repo, notifier := runContextFixture(t, 1, policy)

	before := time.Now()
	terminal, err := rc.Fail("extract", errors.New("boom"))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if terminal {
		t.Fatalf("first failure should not be terminal")
	}

	job := repo.jobs[rc.Job().ID]
	if job.Status != types.JobStatusQueued {
		t.Fatalf("status = %q, want queued", job.Status)
	}
	if job.RunAfter == nil {
		t.Fatalf("run_after not set on requeue")
	}
	delay := job.RunAfter.Sub(before)
	if delay < 4*time.Second || delay > 6*time.Second {
		t.Fatalf("first retry delay = %v, want ~5s", delay)
	}
	if len(notifier.failed) != 1 || notifier.failed[0] {
		t.Fatalf("expected one non-terminal failure event, got %v", notifier.failed)
	}
}

func TestFailBackoffDoubles(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Second}
	rc, repo, _ := runContextFixture(t, 2, policy)

	before := time.Now()
	if _, err := rc.Fail("extract", errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	delay := repo.jobs[rc.Job().ID].RunAfter.Sub(before)
	if delay < 9*time.Second || delay > 11*time.Second {
		t.Fatalf("second retry delay = %v, want ~10s", delay)
	}
}

func TestFailTerminalOnLastAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
	rc, repo, notifier := runContextFixture(t, 3, policy)

	terminal, err := rc.Fail("embed", errors.New("still down"))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !terminal {
		t.Fatalf("third failure of three should be terminal")
	}
	job := repo.jobs[rc.Job().ID]
	if job.Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.Error == "" {
		t.Fatalf("terminal failure lost its error message")
	}
	if len(notifier.failed) != 1 || !notifier.failed[0] {
		t.Fatalf("expected one terminal failure event, got %v", notifier.failed)
	}
}

func TestFailPermanentSkipsRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
	rc, repo, notifier := runContextFixture(t, 1, policy)

	if err := rc.FailPermanent("extract", errors.New("unsupported file format")); err != nil {
		t.Fatalf("FailPermanent: %v", err)
	}
	if repo.jobs[rc.Job().ID].Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed on first attempt", repo.jobs[rc.Job().ID].Status)
	}
	if len(notifier.failed) != 1 || !notifier.failed[0] {
		t.Fatalf("expected a terminal failure event, got %v", notifier.failed)
	}
}

func TestSucceedRecordsResult(t *testing.T) {
	rc, repo, notifier := runContextFixture(t, 1, RetryPolicy{MaxAttempts: 3, Backoff: time.Second})

	if err := rc.Succeed(map[string]any{"chunks_added": 5}); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	job := repo.jobs[rc.Job().ID]
	if job.Status != types.JobStatusSucceeded {
		t.Fatalf("status = %q, want succeeded", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	if notifier.done != 1 {
		t.Fatalf("done events = %d, want 1", notifier.done)
	}
}

func TestProgressClampsAndNotifies(t *testing.T) {
	rc, repo, notifier := runContextFixture(t, 1, RetryPolicy{MaxAttempts: 3, Backoff: time.Second})

	rc.Progress("extract", -5)
	rc.Progress("persist", 130)

	job := repo.jobs[rc.Job().ID]
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want clamped 100", job.Progress)
	}
	if len(notifier.progress) != 2 || notifier.progress[1] != "persist" {
		t.Fatalf("progress events = %v", notifier.progress)
	}
}

func TestPayloadUUID(t *testing.T) {
	rc, _, _ := runContextFixture(t, 1, RetryPolicy{MaxAttempts: 3, Backoff: time.Second})

	id, err := rc.PayloadUUID("material_id")
	if err != nil {
		t.Fatalf("PayloadUUID: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("parsed uuid is nil")
	}
	if _, err := rc.PayloadUUID("missing_key"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

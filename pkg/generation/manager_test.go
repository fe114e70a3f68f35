package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const ownerID = "acct-owner"

func TestSubmitDebitsAndEnqueues(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 3)

	jobID := fixture.mustSubmit(test, ownerID)

	if balance := fixture.ledger.balance(ownerID); balance != 2 {
		test.Fatalf("expected balance 2 after submit, got %d", balance)
	}
	job, err := fixture.jobs.GetJob(context.Background(), jobID)
	if err != nil {
		test.Fatalf("get job: %v", err)
	}
	if job.Status != StatusProcessing {
		test.Fatalf("expected processing job, got %s", job.Status)
	}
	if job.SourceImageRef == "" {
		test.Fatalf("expected a stored source image reference")
	}
	if !strings.Contains(job.Prompt, "plushie toy design") {
		test.Fatalf("expected a derived prompt, got %q", job.Prompt)
	}
	select {
	case queued := <-fixture.manager.queue:
		if queued != jobID {
			test.Fatalf("expected job %s queued, got %s", jobID, queued)
		}
	default:
		test.Fatalf("expected the job on the dispatch queue")
	}
}

func TestSubmitInsufficientCreditsRollsBack(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 0)

	_, err := fixture.manager.Submit(context.Background(), ownerID, []byte("source"), "photo.png", StyleCute, SizeSmall)
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if got := len(fixture.jobs.jobs); got != 0 {
		test.Fatalf("job row must be rolled back, found %d", got)
	}
	if got := fixture.blobs.size(); got != 0 {
		test.Fatalf("source blob must be rolled back, found %d", got)
	}
}

func TestSubmitRejectsInvalidInput(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 5)
	ctx := context.Background()

	testCases := []struct {
		name    string
		image   []byte
		style   Style
		size    Size
		wantErr error
	}{
		{name: "empty image", image: nil, style: StyleCute, size: SizeSmall, wantErr: ErrInvalidImage},
		{name: "unknown style", image: []byte("x"), style: Style("anime"), size: SizeSmall, wantErr: ErrInvalidStyle},
		{name: "unknown size", image: []byte("x"), style: StyleCartoon, size: Size("giant"), wantErr: ErrInvalidSize},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			_, err := fixture.manager.Submit(ctx, ownerID, testCase.image, "photo.png", testCase.style, testCase.size)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestFailRefundsExactlyOnce(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 3)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	fixture.manager.Fail(ctx, jobID)

	if balance := fixture.ledger.balance(ownerID); balance != 3 {
		test.Fatalf("expected the refund to restore balance 3, got %d", balance)
	}
	job, _ := fixture.jobs.GetJob(ctx, jobID)
	if job.Status != StatusFailed {
		test.Fatalf("expected failed job, got %s", job.Status)
	}
	if !job.Refunded {
		test.Fatalf("expected the job marked refunded")
	}

	// A second Fail is dropped by the guarded transition.
	fixture.manager.Fail(ctx, jobID)
	if balance := fixture.ledger.balance(ownerID); balance != 3 {
		test.Fatalf("double fail must not double refund, got %d", balance)
	}
	if fixture.ledger.credits != 1 {
		test.Fatalf("expected exactly one refund credit, got %d", fixture.ledger.credits)
	}
}

func TestRefundFailureLeavesJobFailed(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 2)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	fixture.ledger.creditError = errors.New("ledger down")
	fixture.manager.Fail(ctx, jobID)

	job, _ := fixture.jobs.GetJob(ctx, jobID)
	if job.Status != StatusFailed {
		test.Fatalf("expected failed job despite refund failure, got %s", job.Status)
	}
	if job.Refunded {
		test.Fatalf("job must stay unrefunded for the reconciler")
	}
	if balance := fixture.ledger.balance(ownerID); balance != 1 {
		test.Fatalf("expected balance 1, got %d", balance)
	}
}

func TestCompletedIsTerminal(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 2)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	fixture.manager.Complete(ctx, jobID, "blob://result")
	fixture.manager.Fail(ctx, jobID)

	job, _ := fixture.jobs.GetJob(ctx, jobID)
	if job.Status != StatusCompleted {
		test.Fatalf("completed must not revert, got %s", job.Status)
	}
	if job.ResultImageRef != "blob://result" {
		test.Fatalf("expected result reference, got %q", job.ResultImageRef)
	}
	if fixture.ledger.credits != 0 {
		test.Fatalf("no refund may follow completion, got %d credits", fixture.ledger.credits)
	}
}

func TestOwnershipEnforced(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 2)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	if _, err := fixture.manager.Get(ctx, jobID, "acct-intruder"); !errors.Is(err, ErrForbidden) {
		test.Fatalf("get: expected ErrForbidden, got %v", err)
	}
	if _, err := fixture.manager.ToggleFavorite(ctx, jobID, "acct-intruder"); !errors.Is(err, ErrForbidden) {
		test.Fatalf("toggle: expected ErrForbidden, got %v", err)
	}
	if err := fixture.manager.Delete(ctx, jobID, "acct-intruder"); !errors.Is(err, ErrForbidden) {
		test.Fatalf("delete: expected ErrForbidden, got %v", err)
	}
	if _, err := fixture.manager.Get(ctx, "unknown-job", ownerID); !errors.Is(err, ErrJobNotFound) {
		test.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestToggleFavoriteFlips(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 2)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	favorite, err := fixture.manager.ToggleFavorite(ctx, jobID, ownerID)
	if err != nil {
		test.Fatalf("toggle: %v", err)
	}
	if !favorite {
		test.Fatalf("expected favorite true after first toggle")
	}
	favorite, err = fixture.manager.ToggleFavorite(ctx, jobID, ownerID)
	if err != nil {
		test.Fatalf("toggle: %v", err)
	}
	if favorite {
		test.Fatalf("expected favorite false after second toggle")
	}
}

func TestDeleteRemovesJobDespiteBlobFailure(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 2)
	ctx := context.Background()
	jobID := fixture.mustSubmit(test, ownerID)

	fixture.blobs.deleteError = errors.New("storage down")
	if err := fixture.manager.Delete(ctx, jobID, ownerID); err != nil {
		test.Fatalf("delete must swallow blob failures: %v", err)
	}
	if _, err := fixture.jobs.GetJob(ctx, jobID); !errors.Is(err, ErrJobNotFound) {
		test.Fatalf("expected the row gone, got %v", err)
	}
	if balance := fixture.ledger.balance(ownerID); balance != 1 {
		test.Fatalf("delete must not refund, got %d", balance)
	}
}

func TestListNewestFirst(test *testing.T) {
	test.Parallel()
	fixture := newManagerFixture(test, ownerID, 5)
	ctx := context.Background()

	first := fixture.mustSubmit(test, ownerID)
	// Later submissions share the fixture clock; nudge creation time apart.
	fixture.jobs.jobs[first].CreatedUnixUTC -= 10
	second := fixture.mustSubmit(test, ownerID)

	listed, err := fixture.manager.List(ctx, ownerID, 10, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		test.Fatalf("expected 2 jobs, got %d", len(listed))
	}
	if listed[0].JobID != second {
		test.Fatalf("expected newest job first")
	}
}

func TestCanTransition(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusProcessing, StatusProcessing, false},
	}
	for _, testCase := range testCases {
		if got := CanTransition(testCase.from, testCase.to); got != testCase.want {
			test.Fatalf("transition %s->%s: expected %v", testCase.from, testCase.to, testCase.want)
		}
	}
}

package store

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"flavorsnap/pkg/domain"
)

func seedCategory(t *testing.T, m *MemoryStore, id string) domain.CategorySubmission {
	t.Helper()
	c := domain.CategorySubmission{
		ID:          id,
		Name:        "Jollof Rice",
		Description: "West African one-pot rice dish",
		SubmittedBy: "user-1",
		SubmittedAt: time.Now().UTC(),
		Status:      domain.CategoryPending,
		Images:      []string{"categories/" + id + "/jollof.jpg"},
	}
	if err := m.SaveCategory(c); err != nil {
		t.Fatalf("save category: %v", err)
	}
	return c
}

func assertCounters(t *testing.T, m *MemoryStore, id string) {
	t.Helper()
	cat, ok, err := m.GetCategory(id)
	if err != nil || !ok {
		t.Fatalf("get category: ok=%v err=%v", ok, err)
	}
	votes, err := m.ListVotes(id)
	if err != nil {
		t.Fatalf("list votes: %v", err)
	}
	up, down := 0, 0
	for _, v := range votes {
		if v.Type == domain.Upvote {
			up++
		} else {
			down++
		}
	}
	if cat.VotesUp != up || cat.VotesDown != down {
		t.Fatalf("counter drift: have up=%d down=%d, ledger up=%d down=%d", cat.VotesUp, cat.VotesDown, up, down)
	}
	if cat.VotesUp < 0 || cat.VotesDown < 0 {
		t.Fatalf("negative counter: up=%d down=%d", cat.VotesUp, cat.VotesDown)
	}
}

func TestCastVoteCountsAndRevotes(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")
	now := time.Now()

	if err := m.CastVote("cat-1", "voter-a", domain.Upvote, now); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	cat, _, _ := m.GetCategory("cat-1")
	if cat.VotesUp != 1 || cat.VotesDown != 0 {
		t.Fatalf("after upvote: up=%d down=%d", cat.VotesUp, cat.VotesDown)
	}

	// Same voter changes their mind: the one live vote flips type.
	if err := m.CastVote("cat-1", "voter-a", domain.Downvote, now); err != nil {
		t.Fatalf("re-vote: %v", err)
	}
	cat, _, _ = m.GetCategory("cat-1")
	if cat.VotesUp != 0 || cat.VotesDown != 1 {
		t.Fatalf("after flip: up=%d down=%d", cat.VotesUp, cat.VotesDown)
	}
	votes, _ := m.ListVotes("cat-1")
	if len(votes) != 1 {
		t.Fatalf("expected one live vote, got %d", len(votes))
	}
	assertCounters(t, m, "cat-1")
}

func TestCastVoteSameTypeIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := m.CastVote("cat-1", "voter-a", domain.Upvote, now); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	cat, _, _ := m.GetCategory("cat-1")
	if cat.VotesUp != 1 || cat.VotesDown != 0 {
		t.Fatalf("idempotence broken: up=%d down=%d", cat.VotesUp, cat.VotesDown)
	}
}

func TestCastVoteRandomizedSequencesKeepInvariant(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		voter := fmt.Sprintf("voter-%d", rng.Intn(20))
		vote := domain.Upvote
		if rng.Intn(2) == 0 {
			vote = domain.Downvote
		}
		if err := m.CastVote("cat-1", voter, vote, time.Now()); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		assertCounters(t, m, "cat-1")
	}
	cat, _, _ := m.GetCategory("cat-1")
	votes, _ := m.ListVotes("cat-1")
	if cat.VotesUp+cat.VotesDown != len(votes) {
		t.Fatalf("total %d != distinct voters %d", cat.VotesUp+cat.VotesDown, len(votes))
	}
}

func TestCastVoteConcurrentVotersStayExact(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")

	const voters = 50
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			voter := fmt.Sprintf("voter-%d", n)
			vote := domain.Upvote
			if n%2 == 0 {
				vote = domain.Downvote
			}
			// Each voter also re-votes; the final tally must still be
			// exactly one vote per voter.
			_ = m.CastVote("cat-1", voter, domain.Upvote, time.Now())
			_ = m.CastVote("cat-1", voter, vote, time.Now())
		}(i)
	}
	wg.Wait()

	cat, _, _ := m.GetCategory("cat-1")
	if cat.VotesUp+cat.VotesDown != voters {
		t.Fatalf("expected %d total votes, got up=%d down=%d", voters, cat.VotesUp, cat.VotesDown)
	}
	assertCounters(t, m, "cat-1")
}

func TestCastVoteUnknownCategory(t *testing.T) {
	m := NewMemoryStore()
	err := m.CastVote("missing", "voter-a", domain.Upvote, time.Now())
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestVotingClosesAfterModeration(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")
	if err := m.CastVote("cat-1", "voter-a", domain.Upvote, time.Now()); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := m.Moderate("cat-1", "mod-1", domain.ActionApprove, "solid submission", time.Now()); err != nil {
		t.Fatalf("moderate: %v", err)
	}
	err := m.CastVote("cat-1", "voter-b", domain.Upvote, time.Now())
	if !domain.IsKind(err, domain.KindVotingClosed) {
		t.Fatalf("expected voting_closed, got %v", err)
	}
	// Even the voter who already voted is frozen out.
	err = m.CastVote("cat-1", "voter-a", domain.Downvote, time.Now())
	if !domain.IsKind(err, domain.KindVotingClosed) {
		t.Fatalf("expected voting_closed for re-vote, got %v", err)
	}
}

func TestModerateIsOneShot(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")

	cat, err := m.Moderate("cat-1", "mod-1", domain.ActionReject, "duplicate of existing category", time.Now())
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if cat.Status != domain.CategoryRejected {
		t.Fatalf("status = %s", cat.Status)
	}
	if cat.ApprovedBy != "mod-1" || cat.ApprovedAt == nil {
		t.Fatalf("moderation event not recorded: by=%q at=%v", cat.ApprovedBy, cat.ApprovedAt)
	}

	if _, err := m.Moderate("cat-1", "mod-2", domain.ActionApprove, "", time.Now()); !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
}

func TestApproveEnqueuesExactlyOneJob(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-approved")
	seedCategory(t, m, "cat-rejected")

	if _, err := m.Moderate("cat-approved", "mod-1", domain.ActionApprove, "", time.Now()); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := m.Moderate("cat-rejected", "mod-1", domain.ActionReject, "", time.Now()); err != nil {
		t.Fatalf("reject: %v", err)
	}

	queue, err := m.ListTrainingQueue()
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected one queued job, got %d", len(queue))
	}
	job := queue[0]
	if job.CategoryID != "cat-approved" || job.Status != domain.TrainingQueued {
		t.Fatalf("unexpected job: %+v", job.TrainingJob)
	}
	if job.CategoryName == "" || len(job.Images) == 0 {
		t.Fatalf("queue item missing category fields: %+v", job)
	}
}

func TestTrainingQueueIsFIFO(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("cat-%d", i)
		seedCategory(t, m, id)
		if _, err := m.Moderate(id, "mod-1", domain.ActionApprove, "", time.Unix(int64(1000+i), 0)); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	queue, _ := m.ListTrainingQueue()
	if len(queue) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(queue))
	}
	for i := 1; i < len(queue); i++ {
		if queue[i].CreatedAt.Before(queue[i-1].CreatedAt) {
			t.Fatalf("queue not FIFO: %v before %v", queue[i].CreatedAt, queue[i-1].CreatedAt)
		}
	}
}

func TestUpdateTrainingStatusTimestampsSetOnce(t *testing.T) {
	m := NewMemoryStore()
	seedCategory(t, m, "cat-1")
	if _, err := m.Moderate("cat-1", "mod-1", domain.ActionApprove, "", time.Now()); err != nil {
		t.Fatalf("approve: %v", err)
	}
	queue, _ := m.ListTrainingQueue()
	jobID := queue[0].ID

	first, err := m.UpdateTrainingStatus(jobID, domain.TrainingRunning, "", time.Unix(2000, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.StartedAt == nil {
		t.Fatalf("startedAt not set")
	}
	// A duplicate worker report must not move the timestamp.
	second, err := m.UpdateTrainingStatus(jobID, domain.TrainingRunning, "", time.Unix(3000, 0))
	if err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("startedAt moved on duplicate report: %v -> %v", first.StartedAt, second.StartedAt)
	}

	failed, err := m.UpdateTrainingStatus(jobID, domain.TrainingFailed, "gpu node lost", time.Unix(4000, 0))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.CompletedAt == nil || failed.ErrorMessage != "gpu node lost" {
		t.Fatalf("failure not recorded: %+v", failed)
	}

	// The failed job leaves the worker-visible queue but remains readable.
	queue, _ = m.ListTrainingQueue()
	if len(queue) != 0 {
		t.Fatalf("failed job still queued: %+v", queue)
	}
	if _, ok, _ := m.GetTrainingJob(jobID); !ok {
		t.Fatalf("job record deleted")
	}
}

func TestUpdateTrainingStatusUnknownJob(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.UpdateTrainingStatus("missing", domain.TrainingRunning, "", time.Now())
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

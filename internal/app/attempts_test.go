package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"quizzles/internal/app"
	"quizzles/internal/domain"
	"quizzles/internal/infra/memory"
)

func TestStartIsIdempotentWhileInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.attempts.Start(ctx, f.alice, f.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	second, err := f.attempts.Start(ctx, f.alice, f.quiz.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if first.ID != second.ID || !first.StartedAt.Equal(second.StartedAt) {
		t.Fatalf("expected the same attempt, got %+v and %+v", first, second)
	}
	if f.rec.started.Load() != 1 || f.rec.resumed.Load() != 1 {
		t.Fatalf("unexpected recorder counts started=%d resumed=%d", f.rec.started.Load(), f.rec.resumed.Load())
	}
}

func TestStartUnknownQuiz(t *testing.T) {
	f := newFixture(t)
	if _, err := f.attempts.Start(context.Background(), f.alice, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitScoresAndCompletes(t *testing.T) {
	cases := []struct {
		name    string
		answers func(f *fixture) []domain.Answer
		want    int
	}{
		{"first right second wrong", func(f *fixture) []domain.Answer { return []domain.Answer{right(f.q1), wrong(f.q2)} }, 10},
		{"both right", func(f *fixture) []domain.Answer { return []domain.Answer{right(f.q1), right(f.q2)} }, 25},
		{"nothing answered", func(f *fixture) []domain.Answer { return nil }, 0},
		{"only second right", func(f *fixture) []domain.Answer { return []domain.Answer{right(f.q2)} }, 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			attempt, err := f.attempts.Start(ctx, f.alice, f.quiz.ID)
			if err != nil {
				t.Fatalf("start: %v", err)
			}

			view, err := f.attempts.Submit(ctx, f.alice, attempt.ID, tc.answers(f))
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if view.Status != domain.StatusCompleted || view.Score == nil || *view.Score != tc.want {
				t.Fatalf("expected completed with %d, got %+v", tc.want, view)
			}
			if view.CompletedAt == nil || !view.CompletedAt.Equal(f.clock.Now()) {
				t.Fatalf("expected completedAt now, got %v", view.CompletedAt)
			}
			if len(view.Responses) != len(tc.answers(f)) {
				t.Fatalf("expected %d enriched responses, got %d", len(tc.answers(f)), len(view.Responses))
			}
		})
	}
}

func TestCompletedAttemptIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)
	if _, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1)}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q2)}); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed on resubmit, got %v", err)
	}
	if _, err := f.attempts.SaveProgress(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q2)}); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed on save, got %v", err)
	}
	if _, err := f.attempts.Start(ctx, f.alice, f.quiz.ID); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed on restart, got %v", err)
	}

	view, err := f.attempts.View(ctx, f.alice, attempt.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if *view.Score != 10 || len(view.Responses) != 1 {
		t.Fatalf("completed attempt changed: %+v", view)
	}
}

func TestSubmitMergesSavedProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	saved, err := f.attempts.SaveProgress(ctx, f.alice, attempt.ID, []domain.Answer{wrong(f.q1), right(f.q2)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Status != domain.StatusInProgress || saved.Responses != nil || saved.Score != nil {
		t.Fatalf("expected reduced in-progress view, got %+v", saved)
	}

	view, err := f.attempts.SubmitForQuiz(ctx, f.alice, f.quiz.ID, []domain.Answer{right(f.q1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *view.Score != 25 {
		t.Fatalf("expected saved answer to count, got %d", *view.Score)
	}
}

func TestSubmitRejectsForeignAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other, err := f.catalog.CreateQuiz(ctx, f.admin, app.QuizInput{Title: "Other", Duration: 5, TotalScore: 1})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	foreign := f.question(t, other.ID, "Other?", 1, "yes", "no")
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	bad := [][]domain.Answer{
		{right(foreign)},
		{{QuestionID: f.q1.ID, OptionID: f.q2.Options[0].ID}},
		{right(f.q1), wrong(f.q1)},
	}
	for _, answers := range bad {
		if _, err := f.attempts.Submit(ctx, f.alice, attempt.ID, answers); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", answers, err)
		}
	}

	view, err := f.attempts.View(ctx, f.alice, attempt.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Status != domain.StatusInProgress {
		t.Fatalf("rejected submission must not complete the attempt: %+v", view)
	}
}

func TestAttemptOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	if _, err := f.attempts.Submit(ctx, f.bob, attempt.ID, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden submit, got %v", err)
	}
	if _, err := f.attempts.View(ctx, f.bob, attempt.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden view, got %v", err)
	}
	if _, err := f.attempts.View(ctx, f.admin, attempt.ID); err != nil {
		t.Fatalf("admin view: %v", err)
	}
	if _, err := f.attempts.Submit(ctx, f.admin, attempt.ID, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("admins cannot submit for others, got %v", err)
	}
	if _, err := f.attempts.ViewForQuiz(ctx, f.bob, f.quiz.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no attempt for bob, got %v", err)
	}
}

func TestExpiredAttemptCompletesWithSavedAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	f.clock.Advance(30 * time.Second)
	if _, err := f.attempts.SaveProgress(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	f.clock.Advance(31 * time.Second)
	if _, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q2)}); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected late submit rejected, got %v", err)
	}

	view, err := f.attempts.View(ctx, f.alice, attempt.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Status != domain.StatusCompleted || *view.Score != 10 {
		t.Fatalf("expected expiry to score saved answers, got %+v", view)
	}
	if !view.CompletedAt.Equal(attempt.StartedAt.Add(time.Minute)) {
		t.Fatalf("expected completion at the deadline, got %v", view.CompletedAt)
	}
	if f.rec.expired.Load() != 1 || f.rec.submitted.Load() != 0 {
		t.Fatalf("unexpected recorder counts expired=%d submitted=%d", f.rec.expired.Load(), f.rec.submitted.Load())
	}
}

func TestAttemptExpiresExactlyAtDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	f.clock.Advance(time.Minute - time.Nanosecond)
	view, err := f.attempts.View(ctx, f.alice, attempt.ID)
	if err != nil || view.Status != domain.StatusInProgress {
		t.Fatalf("expected in progress just before deadline, got %+v %v", view, err)
	}

	f.clock.Advance(time.Nanosecond)
	view, err = f.attempts.View(ctx, f.alice, attempt.ID)
	if err != nil || view.Status != domain.StatusCompleted || *view.Score != 0 {
		t.Fatalf("expected completed with 0 at deadline, got %+v %v", view, err)
	}
}

func TestStartAfterExpiryIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.attempts.Start(ctx, f.alice, f.quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(61 * time.Second)
	if _, err := f.attempts.Start(ctx, f.alice, f.quiz.ID); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
}

func TestConcurrentStartsShareOneAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const workers = 25
	ids := make([]int64, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			a, err := f.attempts.Start(ctx, f.alice, f.quiz.ID)
			ids[i] = a.ID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single attempt, got ids %v", ids)
		}
	}
	attempts, _ := f.store.AttemptsByUser(ctx, f.alice.UserID)
	if len(attempts) != 1 || f.rec.started.Load() != 1 {
		t.Fatalf("expected one stored attempt, got %d (started=%d)", len(attempts), f.rec.started.Load())
	}
}

func TestConcurrentReadsExpireOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)
	events, cancel := f.feed.Subscribe(f.quiz.ID)
	defer cancel()

	f.clock.Advance(2 * time.Minute)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			view, err := f.attempts.View(ctx, f.alice, attempt.ID)
			if err == nil && view.Status != domain.StatusCompleted {
				return errors.New("attempt not completed")
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("view: %v", err)
	}
	if f.rec.expired.Load() != 1 {
		t.Fatalf("expected exactly one expiry, got %d", f.rec.expired.Load())
	}

	select {
	case ev := <-events:
		if ev.Type != domain.EventAttemptCompleted || ev.Reason != domain.CompletedByExpiry {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected a completion event")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event %+v", ev)
	default:
	}
}

func TestConcurrentSubmitsCompleteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	choices := [][]domain.Answer{
		{right(f.q1), right(f.q2)},
		{right(f.q1), wrong(f.q2)},
		{wrong(f.q1), right(f.q2)},
		{wrong(f.q1), wrong(f.q2)},
		nil,
	}
	const workers = 10
	views := make([]domain.AttemptView, workers)
	errs := make([]error, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			views[i], errs[i] = f.attempts.Submit(ctx, f.alice, attempt.ID, choices[i%len(choices)])
			return nil
		})
	}
	_ = g.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("submits %d and %d both succeeded", winner, i)
			}
			winner = i
		case !errors.Is(err, domain.ErrAlreadyCompleted):
			t.Fatalf("submit %d: expected already completed, got %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatalf("no submit succeeded")
	}
	if f.rec.submitted.Load() != 1 || f.rec.expired.Load() != 0 {
		t.Fatalf("unexpected recorder counts submitted=%d expired=%d", f.rec.submitted.Load(), f.rec.expired.Load())
	}

	stored, err := f.store.Attempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if stored.Score == nil || *stored.Score != *views[winner].Score {
		t.Fatalf("stored score %v differs from winning view %d", stored.Score, *views[winner].Score)
	}
	audit, err := f.attempts.Audit(ctx, f.admin, attempt.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Matches {
		t.Fatalf("stored responses do not match stored score: %+v", audit)
	}
}

func TestSubmitRacingViewAtDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)
	if _, err := f.attempts.SaveProgress(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.clock.Advance(time.Minute)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1), right(f.q2)})
			if !errors.Is(err, domain.ErrAlreadyCompleted) {
				return fmt.Errorf("submit at deadline: expected already completed, got %v", err)
			}
			return nil
		})
		g.Go(func() error {
			view, err := f.attempts.View(ctx, f.alice, attempt.ID)
			if err != nil {
				return err
			}
			if view.Status != domain.StatusCompleted || *view.Score != 10 {
				return fmt.Errorf("unexpected view %+v", view)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if f.rec.expired.Load() != 1 || f.rec.submitted.Load() != 0 {
		t.Fatalf("unexpected recorder counts expired=%d submitted=%d", f.rec.expired.Load(), f.rec.submitted.Load())
	}
	stored, err := f.store.Attempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if *stored.Score != 10 || !stored.CompletedAt.Equal(attempt.StartedAt.Add(time.Minute)) {
		t.Fatalf("expected expiry at the deadline with 10, got %+v", stored)
	}
}

func TestCompletionScoresAnswersSavedByAnotherManager(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		// A second instance shares the store but not the per-attempt locks.
		other := app.NewAttemptManager(f.store, memory.NewQuizCache(f.store, time.Hour), app.WithClock(f.clock.Now))
		attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

		var g errgroup.Group
		g.Go(func() error {
			_, err := other.SaveProgress(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q2)})
			if err != nil && !errors.Is(err, domain.ErrAlreadyCompleted) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			_, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1)})
			return err
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}

		audit, err := f.attempts.Audit(ctx, f.admin, attempt.ID)
		if err != nil {
			t.Fatalf("round %d audit: %v", i, err)
		}
		if !audit.Matches {
			t.Fatalf("round %d: stored score %v, responses score %d", i, audit.StoredScore, audit.ComputedScore)
		}
		if got := *audit.StoredScore; got != 10 && got != 25 {
			t.Fatalf("round %d: unexpected score %d", i, got)
		}
	}
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	attempt, _ := f.attempts.Start(ctx, f.alice, f.quiz.ID)

	audit, err := f.attempts.Audit(ctx, f.admin, attempt.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if audit.StoredScore != nil || audit.Matches {
		t.Fatalf("open attempt should have no stored score: %+v", audit)
	}

	if _, err := f.attempts.Submit(ctx, f.alice, attempt.ID, []domain.Answer{right(f.q1), right(f.q2)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	audit, err = f.attempts.Audit(ctx, f.admin, attempt.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Matches || audit.ComputedScore != 25 {
		t.Fatalf("expected matching score 25, got %+v", audit)
	}

	if _, err := f.attempts.Audit(ctx, f.alice, attempt.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden audit, got %v", err)
	}
}

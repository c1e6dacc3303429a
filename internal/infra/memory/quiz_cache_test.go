package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizzles/internal/domain"
)

func TestQuizCacheCaches(t *testing.T) {
	loader := &countingLoader{QuizLoader: seededStore(t)}
	cache := NewQuizCache(loader, time.Minute)

	if _, err := cache.QuizWithQuestions(context.Background(), 1); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	quiz, err := cache.QuizWithQuestions(context.Background(), 1)
	if err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if len(quiz.Questions) != 1 || len(quiz.Questions[0].Options) != 2 {
		t.Fatalf("unexpected structure: %+v", quiz)
	}
}

func TestQuizCacheExpiresAndInvalidates(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	loader := &countingLoader{QuizLoader: seededStore(t)}
	cache := NewQuizCache(loader, time.Minute)
	cache.clock = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cache.QuizWithQuestions(ctx, 1); err != nil {
		t.Fatalf("get quiz: %v", err)
	}

	// past ttl plus the maximum jitter
	now = now.Add(67 * time.Second)
	if _, err := cache.QuizWithQuestions(ctx, 1); err != nil {
		t.Fatalf("get quiz after ttl: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", loader.calls.Load())
	}

	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.QuizWithQuestions(ctx, 1); err != nil {
		t.Fatalf("get quiz after invalidate: %v", err)
	}
	if loader.calls.Load() != 3 {
		t.Fatalf("expected reload after invalidate, got %d calls", loader.calls.Load())
	}
}

func TestQuizCacheCollapsesConcurrentLoads(t *testing.T) {
	loader := &countingLoader{QuizLoader: seededStore(t), delay: 20 * time.Millisecond}
	cache := NewQuizCache(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.QuizWithQuestions(context.Background(), 1); err != nil {
				t.Errorf("get quiz: %v", err)
			}
		}()
	}
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestQuizCacheDoesNotCacheMisses(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStore()}
	cache := NewQuizCache(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.QuizWithQuestions(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected misses to reach the loader, got %d calls", loader.calls.Load())
	}
}

func TestQuizCacheDropsLoadRacingInvalidate(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	loader := &gatedLoader{QuizLoader: store, loaded: make(chan struct{}), release: make(chan struct{})}
	cache := NewQuizCache(loader, time.Minute)

	done := make(chan domain.QuizWithQuestions)
	go func() {
		quiz, err := cache.QuizWithQuestions(ctx, 1)
		if err != nil {
			t.Errorf("get quiz: %v", err)
		}
		done <- quiz
	}()
	<-loader.loaded

	// A question lands and the cache is invalidated while the old load runs.
	if _, err := store.CreateQuestion(ctx, domain.Question{QuizID: 1, Text: "What is 3 + 3?", Marks: 1}, []domain.Option{
		{Text: "6", IsCorrect: true},
		{Text: "7"},
	}); err != nil {
		t.Fatalf("create question: %v", err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(loader.release)
	if stale := <-done; len(stale.Questions) != 1 {
		t.Fatalf("expected the in-flight load to see the old structure, got %d questions", len(stale.Questions))
	}

	quiz, err := cache.QuizWithQuestions(ctx, 1)
	if err != nil {
		t.Fatalf("get quiz after invalidate: %v", err)
	}
	if len(quiz.Questions) != 2 {
		t.Fatalf("expected fresh structure with 2 questions, got %d", len(quiz.Questions))
	}
}

func TestQuizCacheWithZeroTTLDoesNotCache(t *testing.T) {
	loader := &countingLoader{QuizLoader: seededStore(t)}
	cache := NewQuizCache(loader, 0)

	for i := 0; i < 2; i++ {
		if _, err := cache.QuizWithQuestions(context.Background(), 1); err != nil {
			t.Fatalf("get quiz: %v", err)
		}
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected every read to load, got %d calls", loader.calls.Load())
	}
}

// gatedLoader snapshots the structure, then waits for release before
// returning it.
type gatedLoader struct {
	QuizLoader
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *gatedLoader) QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error) {
	quiz, err := l.QuizLoader.QuizWithQuestions(ctx, id)
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.loaded)
		<-l.release
	}
	return quiz, err
}

type countingLoader struct {
	QuizLoader
	delay time.Duration
	calls atomic.Int32
}

func (l *countingLoader) QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return l.QuizLoader.QuizWithQuestions(ctx, id)
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store := NewStore()
	quiz, err := store.CreateQuiz(ctx, domain.Quiz{Title: "Arithmetic", Duration: 5, TotalScore: 1})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	_, err = store.CreateQuestion(ctx, domain.Question{QuizID: quiz.ID, Text: "What is 2 + 2?", Marks: 1}, []domain.Option{
		{Text: "3"},
		{Text: "4", IsCorrect: true},
	})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	return store
}

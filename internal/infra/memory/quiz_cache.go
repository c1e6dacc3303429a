package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizzles/internal/domain"
)

// QuizLoader fetches the full quiz structure from the entity store.
type QuizLoader interface {
	QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error)
}

// QuizCache keeps quiz structures in process memory with a TTL so hot
// attempts do not reload the same quiz on every answer.
type QuizCache struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[int64]cachedQuiz
	// gens counts invalidations per quiz. A load only fills the cache if no
	// invalidation happened while it ran.
	gens map[int64]uint64
}

type cachedQuiz struct {
	quiz      domain.QuizWithQuestions
	expiresAt time.Time
}

func NewQuizCache(loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedQuiz),
		gens:   make(map[int64]uint64),
	}
}

func (c *QuizCache) QuizWithQuestions(ctx context.Context, quizID int64) (domain.QuizWithQuestions, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(quizID, 10), func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}
		c.mu.RLock()
		gen := c.gens[quizID]
		c.mu.RUnlock()

		quiz, err := c.loader.QuizWithQuestions(ctx, quizID)
		if err != nil {
			return domain.QuizWithQuestions{}, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			if c.gens[quizID] == gen {
				c.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(c.ttlWithJitterLocked())}
			}
			c.mu.Unlock()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.QuizWithQuestions{}, err
	}
	return result.(domain.QuizWithQuestions), nil
}

// Invalidate drops the cached structure so the next read reloads it. A load
// already in flight still answers its callers but is not cached.
func (c *QuizCache) Invalidate(_ context.Context, quizID int64) error {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.gens[quizID]++
	c.mu.Unlock()
	c.sf.Forget(strconv.FormatInt(quizID, 10))
	return nil
}

func (c *QuizCache) lookup(quizID int64) (domain.QuizWithQuestions, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.QuizWithQuestions{}, false
	}
	return entry.quiz, true
}

func (c *QuizCache) ttlWithJitterLocked() time.Duration {
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

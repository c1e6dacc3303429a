package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizzles/internal/domain"
)

// QuizLoader fetches the full quiz structure from the entity store.
type QuizLoader interface {
	QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error)
}

const (
	quizField      = "quiz"
	questionPrefix = "question:"
)

// QuizCache shares quiz structures between instances through Redis.
// Each quiz is one hash plus a version counter:
//
//	HSET quiz:{quizID}:structure quiz {quiz json}
//	HSET quiz:{quizID}:structure question:{questionID} {question+options json}
//	INCR quiz:{quizID}:version
//
// Invalidate bumps the version. A fill only commits while the version still
// matches the one read before loading, so a load that raced an invalidation
// on any instance is never written back.
type QuizCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizCache(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) QuizWithQuestions(ctx context.Context, quizID int64) (domain.QuizWithQuestions, error) {
	key := structureKey(quizID)
	if quiz, ok := c.cached(ctx, key); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled the hash meanwhile.
		if quiz, ok := c.cached(ctx, key); ok {
			return quiz, nil
		}

		version, versionErr := readVersion(ctx, c.client, quizID)
		quiz, err := c.loader.QuizWithQuestions(ctx, quizID)
		if err != nil {
			return domain.QuizWithQuestions{}, err
		}
		if versionErr == nil && c.ttl > 0 {
			// a failed or stale fill only costs a reload
			_ = c.fill(ctx, quizID, version, quiz)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.QuizWithQuestions{}, err
	}
	return result.(domain.QuizWithQuestions), nil
}

// Invalidate removes the cached hash so every instance reloads the quiz.
func (c *QuizCache) Invalidate(ctx context.Context, quizID int64) error {
	key := structureKey(quizID)
	defer c.sf.Forget(key)

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, versionKey(quizID))
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate quiz %d: %w", quizID, err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersion(ctx context.Context, r getter, quizID int64) (int64, error) {
	v, err := r.Get(ctx, versionKey(quizID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *QuizCache) cached(ctx context.Context, key string) (domain.QuizWithQuestions, bool) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return domain.QuizWithQuestions{}, false
	}
	quiz, err := decodeStructure(fields)
	if err != nil {
		return domain.QuizWithQuestions{}, false
	}
	return quiz, true
}

var errStaleLoad = errors.New("quiz invalidated during load")

func (c *QuizCache) fill(ctx context.Context, quizID, version int64, quiz domain.QuizWithQuestions) error {
	header, err := json.Marshal(quiz.Quiz)
	if err != nil {
		return fmt.Errorf("encode quiz %d: %w", quiz.ID, err)
	}
	values := []interface{}{quizField, header}
	for _, q := range quiz.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode question %d: %w", q.ID, err)
		}
		values = append(values, questionPrefix+strconv.FormatInt(q.ID, 10), raw)
	}

	key := structureKey(quizID)
	ttl := c.ttlWithJitter()
	// WATCH aborts the transaction if the version moves before EXEC.
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, quizID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, values...)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}, versionKey(quizID))
}

func decodeStructure(fields map[string]string) (domain.QuizWithQuestions, error) {
	raw, ok := fields[quizField]
	if !ok {
		return domain.QuizWithQuestions{}, fmt.Errorf("missing %q field", quizField)
	}
	var quiz domain.QuizWithQuestions
	if err := json.Unmarshal([]byte(raw), &quiz.Quiz); err != nil {
		return domain.QuizWithQuestions{}, err
	}
	quiz.Questions = make([]domain.QuestionWithOptions, 0, len(fields)-1)
	for name, value := range fields {
		if !strings.HasPrefix(name, questionPrefix) {
			continue
		}
		var q domain.QuestionWithOptions
		if err := json.Unmarshal([]byte(value), &q); err != nil {
			return domain.QuizWithQuestions{}, err
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	sort.Slice(quiz.Questions, func(i, j int) bool { return quiz.Questions[i].ID < quiz.Questions[j].ID })
	return quiz, nil
}

func structureKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":structure"
}

func versionKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":version"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

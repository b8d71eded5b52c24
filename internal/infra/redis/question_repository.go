package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"treasure-hunt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches the question sequence from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionRepository caches the sequence's answers in Redis and falls back to
// a loader on cache miss. The cached form is lightweight: answer matching
// only needs the canonical answer and points per position, not the prompt.
// Answers are stored as: HSET questions:answers {index} {answer}
// Points are stored as:  HSET questions:points  {index} {points}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

const (
	answersKey = "questions:answers"
	pointsKey  = "questions:points"
)

func (r *QuestionRepository) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	answers, err := r.client.HGetAll(ctx, answersKey).Result()
	if err == nil && len(answers) > 0 {
		points, _ := r.client.HGetAll(ctx, pointsKey).Result()
		return buildFromCache(answers, points), nil
	}

	result, err, _ := r.sf.Do("questions", func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		answers, err := r.client.HGetAll(ctx, answersKey).Result()
		if err == nil && len(answers) > 0 {
			points, _ := r.client.HGetAll(ctx, pointsKey).Result()
			return buildFromCache(answers, points), nil
		}

		questions, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		for i, q := range questions {
			field := strconv.Itoa(i)
			pipe.HSet(ctx, answersKey, field, q.Answer)
			pipe.HSet(ctx, pointsKey, field, q.Points)
		}
		if ttl > 0 {
			pipe.Expire(ctx, answersKey, ttl)
			pipe.Expire(ctx, pointsKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func buildFromCache(answers, points map[string]string) []domain.Question {
	questions := make([]domain.Question, len(answers))
	for field, answer := range answers {
		i, err := strconv.Atoi(field)
		if err != nil || i < 0 || i >= len(questions) {
			continue
		}
		pts := 0
		if raw, ok := points[field]; ok {
			if p, err := strconv.Atoi(raw); err == nil {
				pts = p
			}
		}
		questions[i] = domain.Question{
			ID:     i + 1,
			Answer: answer,
			Points: pts,
		}
	}
	return questions
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

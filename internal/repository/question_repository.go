package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"match-service/internal/models"

	"github.com/lib/pq"
)

type QuestionRepository struct {
	db *sql.DB
}

func NewQuestionRepository(db *sql.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// RandomActiveByTopic picks n distinct active questions for a topic. Too few
// questions is a hard failure surfaced before any match or room is created.
func (r *QuestionRepository) RandomActiveByTopic(ctx context.Context, topic string, n int) ([]*models.Question, error) {
	query := `
		SELECT id, topic, prompt, options, correct_answer, COALESCE(image_url, ''), active
		FROM questions
		WHERE topic = $1 AND active
		ORDER BY random()
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, topic, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	if len(questions) < n {
		return nil, fmt.Errorf("not enough active questions for topic %q: have %d, need %d", topic, len(questions), n)
	}
	return questions, nil
}

// GetByIDs loads questions and returns them in the order of ids. The match
// question order is fixed at creation and must never be re-shuffled.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, topic, prompt, options, correct_answer, COALESCE(image_url, ''), active
		FROM questions
		WHERE id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	ordered := make([]*models.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %s not found", id)
		}
		ordered = append(ordered, q)
	}
	return ordered, nil
}

func scanQuestions(rows *sql.Rows) ([]*models.Question, error) {
	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		var options []byte
		if err := rows.Scan(&q.ID, &q.Topic, &q.Prompt, &options, &q.CorrectAnswer, &q.ImageURL, &q.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("failed to parse options for question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

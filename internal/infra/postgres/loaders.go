// Package postgres loads the global question pool and quest catalog from
// Postgres. Rows store their payload as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quest-party-service/internal/domain"
)

// PoolLoader loads the question pool.
type PoolLoader struct {
	pool *pgxpool.Pool
}

func NewPoolLoader(pool *pgxpool.Pool) *PoolLoader {
	return &PoolLoader{pool: pool}
}

func (l *PoolLoader) LoadPool(ctx context.Context) ([]domain.PoolQuestion, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	defer rows.Close()

	var questions []domain.PoolQuestion
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.PoolQuestion
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	return questions, nil
}

// QuestLoader loads the quest catalog.
type QuestLoader struct {
	pool *pgxpool.Pool
}

func NewQuestLoader(pool *pgxpool.Pool) *QuestLoader {
	return &QuestLoader{pool: pool}
}

func (l *QuestLoader) LoadQuests(ctx context.Context) ([]domain.Quest, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM quests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load quest catalog: %w", err)
	}
	defer rows.Close()

	var quests []domain.Quest
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan quest: %w", err)
		}
		var q domain.Quest
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal quest: %w", err)
		}
		quests = append(quests, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load quest catalog: %w", err)
	}
	return quests, nil
}

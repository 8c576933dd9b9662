package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizroom-service/internal/domain"
)

// gameResultRow maps the game_results table.
type gameResultRow struct {
	bun.BaseModel `bun:"table:game_results"`

	ID               string                     `bun:"id,pk,type:uuid"`
	RoomID           string                     `bun:"room_id,notnull"`
	QuizID           string                     `bun:"quiz_id,notnull"`
	StartedAt        time.Time                  `bun:"started_at,notnull"`
	EndedAt          time.Time                  `bun:"ended_at,notnull"`
	ParticipantCount int                        `bun:"participant_count"`
	QuestionCount    int                        `bun:"question_count"`
	Rankings         []domain.LeaderboardEntry  `bun:"rankings,type:jsonb"`
	Questions        []domain.QuestionAggregate `bun:"questions,type:jsonb"`
	CreatedAt        time.Time                  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ResultStore persists finished games with bun.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (s *ResultStore) SaveGameResult(ctx context.Context, result domain.GameResult) (string, error) {
	row := &gameResultRow{
		ID:               uuid.NewString(),
		RoomID:           result.RoomID,
		QuizID:           result.QuizID,
		StartedAt:        result.StartTime,
		EndedAt:          result.EndTime,
		ParticipantCount: result.ParticipantCount,
		QuestionCount:    result.QuestionCount,
		Rankings:         result.Rankings,
		Questions:        result.Questions,
	}
	if row.Rankings == nil {
		row.Rankings = []domain.LeaderboardEntry{}
	}
	if row.Questions == nil {
		row.Questions = []domain.QuestionAggregate{}
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("insert game result: %w", err)
	}
	return row.ID, nil
}

// GetGameResult loads one persisted game.
func (s *ResultStore) GetGameResult(ctx context.Context, id string) (domain.GameResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.GameResult{}, domain.ErrResultNotFound
	}
	row := new(gameResultRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GameResult{}, domain.ErrResultNotFound
		}
		return domain.GameResult{}, fmt.Errorf("select game result: %w", err)
	}
	return row.toDomain(), nil
}

// ListByQuiz returns the most recent results of a quiz, newest first.
func (s *ResultStore) ListByQuiz(ctx context.Context, quizID string, limit int) ([]domain.GameResult, error) {
	var rows []gameResultRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("quiz_id = ?", quizID).
		Order("ended_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list game results: %w", err)
	}
	out := make([]domain.GameResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r gameResultRow) toDomain() domain.GameResult {
	return domain.GameResult{
		ID:               r.ID,
		RoomID:           r.RoomID,
		QuizID:           r.QuizID,
		StartTime:        r.StartedAt,
		EndTime:          r.EndedAt,
		ParticipantCount: r.ParticipantCount,
		QuestionCount:    r.QuestionCount,
		Rankings:         r.Rankings,
		Questions:        r.Questions,
	}
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizroom-service/internal/domain"
)

const defaultCollection = "quizzes"

// quizDocument is how quizzes are stored in the document DB.
type quizDocument struct {
	ID        string             `bson:"_id"`
	Title     string             `bson:"title"`
	Questions []questionDocument `bson:"questions"`
}

type questionDocument struct {
	ID           string           `bson:"id"`
	Kind         string           `bson:"kind,omitempty"`
	Prompt       string           `bson:"prompt"`
	Options      []optionDocument `bson:"options"`
	MediaURL     string           `bson:"mediaUrl,omitempty"`
	TimeLimitSec int              `bson:"timeLimitSec,omitempty"`
	Points       int              `bson:"points,omitempty"`
	Explanation  string           `bson:"explanation,omitempty"`
	FunFact      string           `bson:"funFact,omitempty"`
}

type optionDocument struct {
	ID      string `bson:"id"`
	Text    string `bson:"text"`
	Correct bool   `bson:"correct"`
}

// QuizLoader reads quizzes from a MongoDB collection.
type QuizLoader struct {
	coll *mongo.Collection
}

func NewQuizLoader(db *mongo.Database, collection string) *QuizLoader {
	if collection == "" {
		collection = defaultCollection
	}
	return &QuizLoader{coll: db.Collection(collection)}
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var doc quizDocument
	err := l.coll.FindOne(ctx, bson.M{"_id": quizID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return doc.toDomain(), nil
}

// SaveQuiz upserts a quiz. Used by seeding and tests.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	doc := fromDomain(quiz)
	_, err := l.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

func (d quizDocument) toDomain() domain.Quiz {
	quiz := domain.Quiz{ID: d.ID, Title: d.Title, Questions: make([]domain.Question, 0, len(d.Questions))}
	for _, q := range d.Questions {
		opts := make([]domain.Option, 0, len(q.Options))
		for _, o := range q.Options {
			opts = append(opts, domain.Option{ID: o.ID, Text: o.Text, Correct: o.Correct})
		}
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:           q.ID,
			Kind:         domain.QuestionKind(q.Kind),
			Prompt:       q.Prompt,
			Options:      opts,
			MediaURL:     q.MediaURL,
			TimeLimitSec: q.TimeLimitSec,
			Points:       q.Points,
			Explanation:  q.Explanation,
			FunFact:      q.FunFact,
		})
	}
	return quiz
}

func fromDomain(quiz domain.Quiz) quizDocument {
	doc := quizDocument{ID: quiz.ID, Title: quiz.Title, Questions: make([]questionDocument, 0, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		opts := make([]optionDocument, 0, len(q.Options))
		for _, o := range q.Options {
			opts = append(opts, optionDocument{ID: o.ID, Text: o.Text, Correct: o.Correct})
		}
		doc.Questions = append(doc.Questions, questionDocument{
			ID:           q.ID,
			Kind:         string(q.Kind),
			Prompt:       q.Prompt,
			Options:      opts,
			MediaURL:     q.MediaURL,
			TimeLimitSec: q.TimeLimitSec,
			Points:       q.Points,
			Explanation:  q.Explanation,
			FunFact:      q.FunFact,
		})
	}
	return doc
}

package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	mongostore "quizroom-service/internal/infra/mongo"
	"quizroom-service/internal/infra/postgres"
	redisstore "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// eventBus both publishes room events and streams them to connections.
type eventBus interface {
	app.Broadcaster
	transport.EventSource
}

type resultStore interface {
	app.ResultStore
	transport.ResultReader
}

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = config.OverrideFromEnv(cfg)

	ctx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	instance := cfg.Server.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	loader, closeLoader, err := newQuizLoader(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLoader()

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var rooms app.RoomRepository
	if redisClient != nil {
		store := redisstore.NewRoomStore(redisClient, redisTTL, instance)
		go store.KeepAlive(ctx, redisTTL/2)
		rooms = store
	} else {
		rooms = memory.NewRoomStore()
	}

	var results resultStore
	if cfg.Postgres.URL != "" {
		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		results = postgres.NewResultStore(db)
	} else {
		results = memory.NewResultStore()
	}

	var events eventBus
	if redisClient != nil && cfg.Redis.PubSub {
		broadcaster := redisstore.NewBroadcaster(redisClient, 0)
		defer broadcaster.Close()
		events = broadcaster
	} else {
		events = memory.NewHub()
	}

	service := app.NewGameService(rooms, quizRepo, results, events, cfg.GameConfig())
	handler := transport.NewRouter(service, events, results, cfg.Server.PublicURL)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz service on :%s (instance %s, quizzes from %s)", finalPort, instance, cfg.QuizSource())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newQuizLoader picks the quiz backing store. The returned func releases it.
func newQuizLoader(ctx context.Context, cfg config.Config) (memory.QuizLoader, func(), error) {
	switch cfg.QuizSource() {
	case "postgres":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewQuizLoader(pool), pool.Close, nil
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		database := cfg.Mongo.Database
		if database == "" {
			database = "quizroom"
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return mongostore.NewQuizLoader(client.Database(database), cfg.Mongo.Collection), closeFn, nil
	}
	return memory.NewStaticQuizLoader(sampleQuizzes()), func() {}, nil
}

// sampleQuizzes is served when no quiz store is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Kind:   domain.KindMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					TimeLimitSec: 20,
					Points:       100,
					Explanation:  "Two pairs make four.",
				},
				{
					ID:     "q2",
					Kind:   domain.KindTrueFalse,
					Prompt: "The Pacific is the largest ocean.",
					Options: []domain.Option{
						{ID: "t", Text: "True", Correct: true},
						{ID: "f", Text: "False", Correct: false},
					},
					TimeLimitSec: 10,
					Points:       100,
				},
				{
					ID:     "q3",
					Kind:   domain.KindMultiSelect,
					Prompt: "Which of these are prime?",
					Options: []domain.Option{
						{ID: "a", Text: "2", Correct: true},
						{ID: "b", Text: "4", Correct: false},
						{ID: "c", Text: "5", Correct: true},
						{ID: "d", Text: "9", Correct: false},
					},
					TimeLimitSec: 30,
					Points:       200,
					FunFact:      "2 is the only even prime.",
				},
			},
		},
	}
}

package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"treasure-hunt-service/internal/app"
	"treasure-hunt-service/internal/config"
	"treasure-hunt-service/internal/domain"
	"treasure-hunt-service/internal/infra/memory"
	pgstore "treasure-hunt-service/internal/infra/postgres"
	redisinfra "treasure-hunt-service/internal/infra/redis"
	transport "treasure-hunt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the room server",
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(builtinQuestions())
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Game.QuestionTTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var registry app.SessionRegistry
	if redisClient != nil {
		registry = redisinfra.NewSessionRegistry(redisClient, redisTTL)
	} else {
		registry = memory.NewSessionRegistry()
	}

	var store app.PlayerStore = memory.NewPlayerStore()
	if pool != nil {
		store = pgstore.NewPlayerStore(pool)
	}

	service := app.NewRoomService(registry, questions, store, app.Settings{
		Countdown:   config.TTLDuration(cfg.Game.Countdown, app.DefaultCountdown),
		AwardPoints: cfg.Game.AwardPoints,
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting treasure hunt service on :%s", finalPort)
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
	err = server.Shutdown(shutdownCtx)
	service.Flush()
	return err
}

// builtinQuestions is the default riddle sequence; a Postgres-backed loader
// replaces it when a database is configured.
func builtinQuestions() []domain.Question {
	return []domain.Question{
		{ID: 1, Prompt: "What has a golden key but no locks?", Answer: "treasure", Points: 100},
		{ID: 2, Prompt: "I speak without a mouth and hear without ears. I have no body, but I come alive with wind. What am I?", Answer: "echo", Points: 150},
		{ID: 3, Prompt: "I have cities, but no houses. I have mountains, but no trees. I have water, but no fish. What am I?", Answer: "map", Points: 200},
		{ID: 4, Prompt: "The more you take, the more you leave behind. What are they?", Answer: "footsteps", Points: 120},
		{ID: 5, Prompt: "I'm light as a feather, but even the strongest person can't hold me for more than a few minutes. What am I?", Answer: "breath", Points: 180},
		{ID: 6, Prompt: "What has many keys but can't open a single lock?", Answer: "piano", Points: 150},
		{ID: 7, Prompt: "What gets wet while drying?", Answer: "towel", Points: 100},
		{ID: 8, Prompt: "What goes up but never comes down?", Answer: "age", Points: 120},
		{ID: 9, Prompt: "If you drop me, I'm sure to crack. Give me a smile, and I'll smile back. What am I?", Answer: "mirror", Points: 180},
		{ID: 10, Prompt: "What treasure do pirates value most?", Answer: "gold", Points: 200},
	}
}

package main

import (
	"context"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/config"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/event"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/hub"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/server"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/store"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/utils"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Quiz hub initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	catalog, err := openCatalog(cfg, cleaner)
	if err != nil {
		logger.FatalF("Error occured while initializing quiz catalog, details: %v", err)
		return
	}

	h := hub.New(hub.Options{
		MaxConnections: cfg.Hub.MaxConnections,
		PingInterval:   utils.ParseStringTimeOr(cfg.Hub.PingInterval, hub.DefaultPingInterval),
		SweepInterval:  utils.ParseStringTimeOr(cfg.Hub.SweepInterval, hub.DefaultSweepInterval),
		StaleAfter:     utils.ParseStringTimeOr(cfg.Hub.StaleAfter, hub.DefaultStaleAfter),
	})
	cleaner.Add(h)

	srv := server.New(catalog, h)
	h.SetOnSubscribe(srv.PushStateOnSubscribe)
	cleaner.Add(srv)

	if err := srv.Start(cfg.Hub.Port); err != nil {
		logger.FatalF("Quiz hub stopped with error: %v", err)
	}
}

// openCatalog picks the quiz store. MongoDB when enabled, otherwise an
// in-memory store seeded with a demo quiz so the hub works standalone.
func openCatalog(cfg config.Config, cleaner *event.Cleaner) (store.QuizStore, error) {
	if cfg.Database.Enabled {
		mongoStore, err := store.ConnectMongo(cfg.Database)
		if err != nil {
			return nil, err
		}
		cleaner.Add(store.NewCloseCallback(mongoStore))
		return mongoStore, nil
	}

	memory := store.NewMemoryStore()
	if err := memory.SaveQuiz(context.Background(), demoQuiz(cfg.Client.QuizID)); err != nil {
		return nil, err
	}
	logger.InfoF("Database disabled, using in-memory catalog with demo quiz %d", cfg.Client.QuizID)
	return memory, nil
}

func demoQuiz(id int64) *store.Quiz {
	return &store.Quiz{
		ID:    id,
		Title: "General Knowledge Warm-up",
		Questions: []store.Question{
			{
				ID:      1,
				Text:    "Which planet is known as the Red Planet?",
				Options: [4]string{"Venus", "Mars", "Jupiter", "Mercury"},
				Order:   1,
				Correct: 1,
			},
			{
				ID:      2,
				Text:    "What is the largest ocean on Earth?",
				Options: [4]string{"Atlantic", "Indian", "Pacific", "Arctic"},
				Order:   2,
				Correct: 2,
			},
			{
				ID:      3,
				Text:    "Which language has the most native speakers?",
				Options: [4]string{"English", "Hindi", "Spanish", "Mandarin Chinese"},
				Order:   3,
				Correct: 3,
			},
			{
				ID:      4,
				Text:    "How many bits are in one byte?",
				Options: [4]string{"4", "8", "16", "32"},
				Order:   4,
				Correct: 1,
			},
		},
	}
}

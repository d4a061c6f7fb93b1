package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/api"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/config"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/connection"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/event"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/stats"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/utils"
)

var (
	titleColor  = color.New(color.FgMagenta, color.Bold)
	labelColor  = color.New(color.FgWhite, color.Bold)
	barColor    = color.New(color.FgBlue)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
	statusColor = color.New(color.FgCyan)
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Moderator dashboard initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	quizID := cfg.Client.QuizID
	client := api.NewClient(cfg.Client.APIURL)
	aggregator := stats.NewAggregator(cfg.Client.TrendCapacity)

	manager := connection.NewManager(cfg.Client.WebSocketURL, connection.Options{
		Transport:            connection.NewWebSocketTransport(),
		HeartbeatInterval:    utils.ParseStringTimeOr(cfg.Client.HeartbeatInterval, connection.DefaultHeartbeatInterval),
		ReconnectBaseDelay:   utils.ParseStringTimeOr(cfg.Client.ReconnectBaseDelay, connection.DefaultReconnectBaseDelay),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	})

	manager.On(protocol.TypeAnswerStatus, func(env protocol.Envelope) {
		snapshot, err := protocol.DecodeAnswerStatus(env.Data)
		if err != nil {
			logger.WarnF("Dropping answer_status: %v", err)
			return
		}
		aggregator.Record(*snapshot)
		renderStats(aggregator)
	})
	manager.On(protocol.TypeSessionUpdate, func(env protocol.Envelope) {
		update, err := protocol.DecodeSessionUpdate(env.Data)
		if err != nil {
			logger.WarnF("Dropping session_update: %v", err)
			return
		}
		statusColor.Printf("\nSession update: question %d/%d, status %s\n",
			update.Session.CurrentQuestionNumber, update.Session.TotalQuestions, update.Session.Status)
	})

	ctx := context.Background()
	if err := manager.Connect(ctx); err != nil {
		logger.FatalF("Could not connect to the hub: %v", err)
		return
	}
	defer manager.Disconnect()
	manager.Subscribe(quizID)

	titleColor.Printf("Moderator dashboard for quiz %d\n", quizID)
	printHelp()
	runCommandLoop(ctx, client, aggregator, quizID)
}

func printHelp() {
	labelColor.Println("Commands: start | next | end | finish | stats | trend | session | help | quit")
}

func runCommandLoop(ctx context.Context, client *api.Client, aggregator *stats.Aggregator, quizID int64) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var err error
		switch cmd := strings.ToLower(strings.TrimSpace(scanner.Text())); cmd {
		case "":
			continue
		case "quit":
			return
		case "help":
			printHelp()
		case "start":
			err = client.StartSession(ctx, quizID)
		case "next":
			err = client.NextQuestion(ctx, quizID)
		case "end":
			err = client.EndVoting(ctx, quizID)
		case "finish":
			err = client.FinishSession(ctx, quizID)
		case "stats":
			renderStats(aggregator)
		case "trend":
			renderTrend(aggregator)
		case "session":
			var session *protocol.QuizSession
			session, err = client.QuizSession(ctx, quizID)
			if err == nil {
				statusColor.Printf("%q: question %d/%d, status %s\n",
					session.Title, session.CurrentQuestionNumber, session.TotalQuestions, session.Status)
			}
		default:
			warnColor.Printf("Unknown command %q\n", cmd)
			printHelp()
		}

		if err != nil {
			var apiErr *api.Error
			if errors.As(err, &apiErr) {
				warnColor.Printf("Hub rejected the command: %s\n", apiErr.Message)
			} else {
				errColor.Printf("Command failed: %v\n", err)
			}
		} else {
			okColor.Print("ok\n")
		}
	}
}

// renderStats prints the aggregate view of the current question.
func renderStats(a *stats.Aggregator) {
	current := a.Current()
	fmt.Println()
	if current.QuestionID == 0 {
		warnColor.Println("No answers recorded yet")
		return
	}
	labelColor.Printf("Question %d: %d/%d answered (%d%%), %d pending\n",
		current.QuestionID, current.AnsweredCount, current.TotalParticipants,
		a.ResponseRate(), a.Unanswered())
	for _, option := range a.Ranking() {
		pct := a.PercentageFor(option)
		barColor.Printf("  %c) %-20s %3d%%  %s\n",
			'A'+option, bar(pct), pct, stats.ColorFor(option))
	}
}

// renderTrend prints the retained answer-count history, oldest first.
func renderTrend(a *stats.Aggregator) {
	samples := a.Trend()
	if len(samples) == 0 {
		warnColor.Println("No trend history yet")
		return
	}
	labelColor.Printf("Last %d snapshots:\n", len(samples))
	for _, s := range samples {
		statusColor.Printf("  %s  question %d: %d answered %v\n",
			s.At.Format("15:04:05"), s.Snapshot.QuestionID, s.Snapshot.AnsweredCount, s.Snapshot.AnswerCounts)
	}
}

// bar renders a 20-cell text bar for a 0-100 percentage.
func bar(pct int) string {
	filled := pct / 5
	return strings.Repeat("#", filled) + strings.Repeat(".", 20-filled)
}

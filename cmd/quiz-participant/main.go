package main

import (
	"bufio"
	"context"
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
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/session"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/utils"
)

var (
	titleColor    = color.New(color.FgCyan, color.Bold)
	promptColor   = color.New(color.FgWhite, color.Bold)
	optionColor   = color.New(color.FgBlue)
	selectedColor = color.New(color.FgGreen, color.Bold)
	noticeColor   = color.New(color.FgYellow)
	errorColor    = color.New(color.FgRed, color.Bold)
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Participant client initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	manager := connection.NewManager(cfg.Client.WebSocketURL, connection.Options{
		Transport:            connection.NewWebSocketTransport(),
		HeartbeatInterval:    utils.ParseStringTimeOr(cfg.Client.HeartbeatInterval, connection.DefaultHeartbeatInterval),
		ReconnectBaseDelay:   utils.ParseStringTimeOr(cfg.Client.ReconnectBaseDelay, connection.DefaultReconnectBaseDelay),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	})

	machine := session.NewMachine(cfg.Client.QuizID, api.NewClient(cfg.Client.APIURL), manager, render)
	manager.On(protocol.TypeAny, machine.HandleMessage)

	titleColor.Printf("Live quiz %d\n", cfg.Client.QuizID)
	render(machine.View())
	runInputLoop(machine)
}

// runInputLoop maps stdin lines onto machine actions based on the current
// state. It returns when stdin closes or the user quits.
func runInputLoop(machine *session.Machine) {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "quit") {
			return
		}

		switch machine.State() {
		case session.StateAwaitingNickname:
			_ = machine.Join(ctx, scanner.Text())
		case session.StateQuestion:
			option, ok := parseOption(input)
			if !ok {
				noticeColor.Printf("Answer with A, B, C or D\n")
				continue
			}
			_ = machine.SelectOption(ctx, option)
		case session.StateResult, session.StateError:
			if strings.EqualFold(input, "restart") {
				machine.Restart()
			} else {
				noticeColor.Printf("Type 'restart' to join again or 'quit' to exit\n")
			}
		default:
			// Waiting and VotingEnded have no user actions.
		}
	}
}

// parseOption accepts a letter (a-d) or a 1-based number.
func parseOption(input string) (int, bool) {
	if len(input) != 1 {
		return 0, false
	}
	switch c := input[0]; {
	case c >= 'a' && c < 'a'+protocol.OptionCount:
		return int(c - 'a'), true
	case c >= 'A' && c < 'A'+protocol.OptionCount:
		return int(c - 'A'), true
	case c >= '1' && c < '1'+protocol.OptionCount:
		return int(c - '1'), true
	}
	return 0, false
}

// render redraws the terminal for the given view. The machine calls it on
// every transition; stdin handling stays in the main goroutine.
func render(v session.View) {
	fmt.Println()
	switch v.State {
	case session.StateAwaitingNickname:
		if v.JoinError != "" {
			errorColor.Printf("%s\n", v.JoinError)
		}
		promptColor.Print("Enter a nickname to join: ")

	case session.StateWaiting:
		noticeColor.Printf("Waiting for the quiz to start...\n")

	case session.StateQuestion:
		renderQuestion(v, true)

	case session.StateVotingEnded:
		renderQuestion(v, false)
		noticeColor.Printf("Voting has ended for this question\n")

	case session.StateResult:
		r := v.Result
		titleColor.Printf("Quiz finished!\n")
		promptColor.Printf("%s, you answered %d of %d questions correctly\n", r.Nickname, r.CorrectAnswers, r.TotalQuestions)
		selectedColor.Printf("Rank %d of %d participants\n", r.Rank, r.TotalParticipants)
		promptColor.Print("Type 'restart' to join again or 'quit' to exit: ")

	case session.StateError:
		errorColor.Printf("%s\n", v.Err)
		promptColor.Print("Type 'restart' to try again or 'quit' to exit: ")
	}
}

func renderQuestion(v session.View, voting bool) {
	if v.Question == nil {
		return
	}
	titleColor.Printf("Question %d/%d: %s\n", v.QuestionNumber, v.TotalQuestions, v.Question.Text)
	for i, opt := range v.Question.Options {
		label := fmt.Sprintf("  %c) %s", 'A'+i, opt)
		if i == v.Selected {
			selectedColor.Printf("%s  <- your answer\n", label)
		} else {
			optionColor.Printf("%s\n", label)
		}
	}
	if v.Notice != "" {
		noticeColor.Printf("%s\n", v.Notice)
	}
	if voting {
		promptColor.Print("Your answer (A-D): ")
	}
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/interview-engine/internal/client"
	"github.com/stemsi/interview-engine/internal/config"
	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/logger"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/submission"
	"github.com/stemsi/interview-engine/internal/validator"
)

func main() {
	var sessionID string
	flag.StringVar(&sessionID, "session", "", "Interview session ID to run")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// The REPL owns stdout; logs go to stderr.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if !validator.IsResourceID(sessionID) {
		fmt.Println("Error: -session is required and must be a valid id")
		os.Exit(2)
	}

	// ─── Token ─────────────────────────────────────────────────────────
	token := cfg.InterviewAPIToken
	if token == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Enter API token (blank for none): ")
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading token")
			os.Exit(1)
		}
		token = strings.TrimSpace(string(b))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(client.Config{
		BaseURL: cfg.InterviewAPIURL,
		Token:   token,
		Timeout: cfg.InterviewAPITimeout,
	}, log)

	out := newPrinter(os.Stdout, terminalWidth())
	ctrl := engine.New(model.ID(sessionID), api, api,
		engine.WithLogger(log),
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithProfile(submission.Profile{
			ChoiceTextNullable: cfg.ChoiceTextNullable,
			TrimFreeText:       cfg.TrimFreeText,
			AllowEmptyFreeText: cfg.AllowEmptyFreeText,
		}),
		engine.WithListener(out.onEvent),
	)
	if err := ctrl.Start(ctx); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	select {
	case <-ctrl.Loaded():
	case <-ctx.Done():
		return
	}
	out.view(ctrl.View())
	if ctrl.View().State.Terminal() {
		return
	}
	out.help()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Done():
			out.view(ctrl.View())
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(ctx, ctrl, out, line); quit {
				return
			}
		}
	}
}

// runCommand executes one REPL line and reports whether to quit.
func runCommand(ctx context.Context, ctrl *engine.Controller, out *printer, line string) bool {
	cmd, err := parseCommand(line)
	if err != nil {
		out.errorf("%v", err)
		return false
	}

	actx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	switch cmd.name {
	case cmdNone:
		return false
	case cmdQuit:
		return true
	case cmdHelp:
		out.help()
		return false
	case cmdShow:
	case cmdAnswer:
		q := ctrl.View().Question
		if q == nil {
			out.errorf("no current question")
			return false
		}
		err = ctrl.SetAnswer(actx, q.ID, cmd.draftFor(q.Kind))
	case cmdNext:
		err = ctrl.Advance(actx)
	case cmdBack:
		err = ctrl.Back(actx)
	case cmdComplete:
		err = ctrl.Complete(actx)
	case cmdRetry:
		err = ctrl.RetryCompletion(actx)
	}
	if err != nil {
		out.errorf("%v", err)
	}
	out.view(ctrl.View())
	return false
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 80
}

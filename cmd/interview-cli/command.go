package main

import (
	"errors"
	"strconv"
	"strings"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
)

type cmdName int

const (
	cmdNone cmdName = iota
	cmdAnswer
	cmdNext
	cmdBack
	cmdComplete
	cmdRetry
	cmdShow
	cmdHelp
	cmdQuit
)

type command struct {
	name cmdName
	arg  string
}

// parseCommand reads one REPL line. Anything that is not a known command is
// taken as an answer: a number picks an option, other text is free text.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{name: cmdNone}, nil
	}

	word, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(word) {
	case ":n", ":next":
		return command{name: cmdNext}, nil
	case ":b", ":back":
		return command{name: cmdBack}, nil
	case ":c", ":complete":
		return command{name: cmdComplete}, nil
	case ":r", ":retry":
		return command{name: cmdRetry}, nil
	case ":s", ":show":
		return command{name: cmdShow}, nil
	case ":h", ":help":
		return command{name: cmdHelp}, nil
	case ":q", ":quit":
		return command{name: cmdQuit}, nil
	case ":clear":
		return command{name: cmdAnswer}, nil
	case ":a", ":answer":
		if strings.TrimSpace(rest) == "" {
			return command{}, errors.New(":answer needs a value")
		}
		return command{name: cmdAnswer, arg: strings.TrimSpace(rest)}, nil
	}
	if strings.HasPrefix(word, ":") {
		return command{}, errors.New("unknown command " + word + " (try :help)")
	}
	return command{name: cmdAnswer, arg: line}, nil
}

// draftFor turns the argument into a draft for a question of kind. Options
// are numbered from 1 on screen.
func (c command) draftFor(kind model.QuestionKind) answer.Draft {
	if kind == model.QuestionKindMultipleChoice {
		if c.arg == "" {
			return answer.Draft{}
		}
		n, err := strconv.Atoi(c.arg)
		if err != nil {
			// Out of range on purpose so the engine rejects it.
			return answer.OptionDraft(-1)
		}
		return answer.OptionDraft(n - 1)
	}
	return answer.TextDraft(c.arg)
}

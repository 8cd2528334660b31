package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"mira/internal/interview"
	"mira/internal/orchestrator"
	"mira/internal/store"
)

const savedMessage = "Session saved. Resume any time with: mira interview -r %s"

// prompter abstracts line input so the session loop is testable without a TTY.
type prompter interface {
	Prompt() (string, bool, error)
	Close() error
}

// readlinePrompter reads input with history and arrow-key support.
type readlinePrompter struct {
	rl *readline.Instance
}

func newReadlinePrompter() (*readlinePrompter, error) {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".mira-history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            green("you> "),
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize readline: %w", err)
	}
	return &readlinePrompter{rl: rl}, nil
}

// Prompt returns the next line. ok=false means the user asked to leave
// (Ctrl+C on an empty line, or Ctrl+D).
func (p *readlinePrompter) Prompt() (string, bool, error) {
	for {
		line, err := p.rl.Readline()
		switch {
		case err == nil:
			return line, true, nil
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				return "", false, nil
			}
			continue
		case errors.Is(err, io.EOF):
			return "", false, nil
		default:
			return "", false, err
		}
	}
}

func (p *readlinePrompter) Close() error { return p.rl.Close() }

// interviewLoop drives one session over an injected prompter and callbacks.
type interviewLoop struct {
	prompter  prompter
	out       io.Writer
	errOut    io.Writer
	sessionID string
	turn      func(ctx context.Context, text string) (*orchestrator.TurnReply, error)
	progress  func(ctx context.Context) (string, error)
	results   func(ctx context.Context) (string, error)
}

func (l *interviewLoop) run(ctx context.Context) error {
	for {
		line, ok, err := l.prompter.Prompt()
		if err != nil {
			return err
		}
		if !ok {
			l.printSaved()
			return nil
		}

		text := strings.TrimSpace(line)
		switch {
		case text == "":
			continue
		case text == "/quit" || text == "/exit" || text == "/q":
			l.printSaved()
			return nil
		case text == "/help":
			printLoopHelp(l.out)
			continue
		case text == "/progress":
			l.printSnapshot(ctx, l.progress)
			continue
		case text == "/results":
			l.printSnapshot(ctx, l.results)
			continue
		case strings.HasPrefix(text, "/"):
			fmt.Fprintln(l.out, gray("Unknown command "+text+". Try /help."))
			continue
		}

		reply, err := l.turn(ctx, text)
		if err != nil {
			fmt.Fprintf(l.errOut, "%s %v\n", red("Error:"), err)
			continue
		}
		printAssistant(l.out, reply.Message)
		if reply.IsComplete {
			l.printSnapshot(ctx, l.results)
			return nil
		}
	}
}

func (l *interviewLoop) printSaved() {
	fmt.Fprintln(l.out, gray(fmt.Sprintf(savedMessage, l.sessionID)))
}

func (l *interviewLoop) printSnapshot(ctx context.Context, fn func(context.Context) (string, error)) {
	if fn == nil {
		return
	}
	text, err := fn(ctx)
	if err != nil {
		fmt.Fprintf(l.errOut, "%s %v\n", red("Error:"), err)
		return
	}
	fmt.Fprintln(l.out, text)
}

func printLoopHelp(out io.Writer) {
	fmt.Fprintf(out, "\n%s\n", bold("Commands"))
	fmt.Fprintf(out, "  %s  show module completion\n", cyan("/progress"))
	fmt.Fprintf(out, "  %s   show what has been assessed so far\n", cyan("/results"))
	fmt.Fprintf(out, "  %s      save and exit\n", cyan("/quit"))
	fmt.Fprintln(out)
}

func printAssistant(out io.Writer, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	fmt.Fprintf(out, "\n%s %s\n\n", cyan("mira:"), message)
}

func printInterviewHeader(out io.Writer, container *Container) {
	fmt.Fprintf(out, "%s %s\n", bold(green("mira")), gray("structured screening interview"))
	fmt.Fprintf(out, "%s %d modules loaded", gray("assessment:"), container.Bank.Len())
	if degraded := container.Orchestrator.Degraded(); len(degraded) > 0 {
		fmt.Fprintf(out, " %s", yellow(fmt.Sprintf("(%d unavailable)", len(degraded))))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s\n\n", gray("commands: /progress, /results, /help, /quit"))
}

// runInterviewSession starts or resumes a session and runs the loop on it.
func runInterviewSession(ctx context.Context, container *Container, resumeID, userID string, out, errOut io.Writer) error {
	orch := container.Orchestrator

	printInterviewHeader(out, container)

	var sessionID string
	if resumeID != "" {
		snapshot, err := orch.GetProgress(ctx, resumeID)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", resumeID, err)
		}
		sessionID = resumeID
		fmt.Fprintf(out, "%s %s\n", gray("Resumed session:"), sessionID)
		if snapshot.IsComplete {
			fmt.Fprintln(out, gray("This interview already finished. Showing its results."))
			results, err := orch.GetResults(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderResults(results))
			return nil
		}
		// Re-surface the pending question so the next answer has something
		// to answer.
		if last := lastAssistantMessage(ctx, container.Store, sessionID); last != "" {
			printAssistant(out, last)
		}
	} else {
		reply, err := orch.StartSession(ctx, userID, "")
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		sessionID = reply.Metadata.SessionID
		fmt.Fprintf(out, "%s %s\n", gray("Session:"), sessionID)
		printAssistant(out, reply.Message)
		if reply.IsComplete {
			return nil
		}
	}

	rl, err := newReadlinePrompter()
	if err != nil {
		return err
	}
	defer func() {
		if err := rl.Close(); err != nil {
			fmt.Fprintf(errOut, "close input: %v\n", err)
		}
	}()

	loop := &interviewLoop{
		prompter:  rl,
		out:       out,
		errOut:    errOut,
		sessionID: sessionID,
		turn: func(ctx context.Context, text string) (*orchestrator.TurnReply, error) {
			return orch.ProcessMessage(ctx, sessionID, text)
		},
		progress: func(ctx context.Context) (string, error) {
			p, err := orch.GetProgress(ctx, sessionID)
			if err != nil {
				return "", err
			}
			return renderProgress(p), nil
		},
		results: func(ctx context.Context) (string, error) {
			r, err := orch.GetResults(ctx, sessionID)
			if err != nil {
				return "", err
			}
			return renderResults(r), nil
		},
	}
	return loop.run(ctx)
}

// lastAssistantMessage returns the most recent assistant turn, which on a
// mid-session resume is the question waiting for an answer.
func lastAssistantMessage(ctx context.Context, st store.Store, sessionID string) string {
	turns, err := st.GetConversationHistory(ctx, sessionID, 20)
	if err != nil {
		return ""
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == interview.RoleAssistant {
			return turns[i].Content
		}
	}
	return ""
}

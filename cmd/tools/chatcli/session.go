package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	chatmodel "github.com/floatchat/backend/internal/model/chat"
	"github.com/floatchat/backend/internal/service/chat"
)

type styles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	notice    lipgloss.Style
	prompt    lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		return styles{
			user:      lipgloss.NewStyle(),
			assistant: lipgloss.NewStyle(),
			notice:    lipgloss.NewStyle(),
			prompt:    lipgloss.NewStyle(),
		}
	}
	return styles{
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#E2E8F0")).PaddingLeft(2),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8")).Italic(true),
		prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6366F1")).Bold(true),
	}
}

// session is one terminal chat view over an Exchange.
type session struct {
	exchange *chat.Exchange
	in       io.Reader
	out      io.Writer
	styles   styles

	// interruptible derives the context for one request; cancelling it
	// abandons the request and drops its reply.
	interruptible func(parent context.Context) (context.Context, context.CancelFunc)
}

func (s *session) run(ctx context.Context) error {
	for _, turn := range s.exchange.Turns() {
		s.printTurn(turn)
	}

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, s.styles.prompt.Render("you › "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		s.submit(ctx, line)
	}
}

func (s *session) submit(parent context.Context, line string) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.interruptible != nil {
		ctx, cancel = s.interruptible(parent)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	fmt.Fprintln(s.out, s.styles.notice.Render("…"))
	res := s.exchange.SubmitWith(ctx, line, func(turn chatmodel.Turn) {
		if turn.Role == chatmodel.RoleAssistant {
			s.printTurn(turn)
		}
	})

	switch {
	case res.Cancelled:
		fmt.Fprintln(s.out, s.styles.notice.Render("(request cancelled)"))
	case !res.Accepted:
		fmt.Fprintln(s.out, s.styles.notice.Render("(still waiting for the previous reply)"))
	}
}

func (s *session) printTurn(turn chatmodel.Turn) {
	switch turn.Role {
	case chatmodel.RoleAssistant:
		fmt.Fprintln(s.out, s.styles.assistant.Render("FloatChat › "+turn.Content))
	default:
		fmt.Fprintln(s.out, s.styles.user.Render("you › "+turn.Content))
	}
}

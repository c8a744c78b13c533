// Package chatcmder provides the chat command for interactive question
// answering through a running relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/ragrelay/pkg/cliui"
	"github.com/papercomputeco/ragrelay/pkg/config"
	"github.com/papercomputeco/ragrelay/pkg/dotdir"
	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/ragclient"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	relayTarget     string
	topK            uint
	newConversation bool
	markdown        bool
	configDir       string
	debug           bool

	in     io.Reader
	out    io.Writer
	client *ragclient.Client
	ddm    *dotdir.Manager
	state  *dotdir.ConversationState
	logger *slog.Logger
}

const chatLongDesc string = `Chat with the RAG backend through a running relay.

Answers stream in as they are generated and end with the list of sources
they cite. The conversation id assigned by the backend is kept in the
.ragrelay/ directory, so the next "ragrelay chat" continues the same
conversation. Use --new to start over.

Press Ctrl+C while an answer is streaming to stop it. Type /exit or press
Ctrl+D at the prompt to quit. Passing a question as arguments asks it once
and exits.

Examples:
  ragrelay chat
  ragrelay chat --new --top-k 8
  ragrelay chat "What does the onboarding guide say about VPN access?"`

const chatShortDesc string = "Interactive chat through the relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, []string{
				config.FlagRelayTarget,
				config.FlagTopK,
			})
			cmder.relayTarget = v.GetString("client.relay_target")
			cmder.topK = v.GetUint("client.top_k")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context(), strings.Join(args, " "))
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddUintFlag(cmd, config.Flags, config.FlagTopK, &cmder.topK)
	cmd.Flags().BoolVar(&cmder.newConversation, "new", false, "Start a new conversation instead of resuming the saved one")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render each finished answer as markdown instead of streaming raw text")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, question string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)
	c.client = ragclient.NewClient(c.relayTarget, ragclient.WithLogger(c.logger))
	c.ddm = dotdir.NewManager()

	if err := c.loadConversation(); err != nil {
		return err
	}

	if question != "" {
		return c.send(ctx, question)
	}

	fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("Relay:"), cliui.NameStyle.Render(c.relayTarget))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		if err := c.send(ctx, input); err != nil {
			fmt.Fprintf(c.out, "  %s %v\n\n", cliui.FailMark, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) loadConversation() error {
	if c.newConversation {
		if err := c.ddm.ClearConversation(c.configDir); err != nil {
			return fmt.Errorf("clearing conversation: %w", err)
		}
	}

	state, err := c.ddm.LoadConversation(c.configDir)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	fmt.Fprintln(c.out)
	if state != nil && state.ConversationID != "" {
		fmt.Fprintf(c.out, "  %s Resuming conversation %s %s\n",
			cliui.SuccessMark,
			cliui.IDStyle.Render(state.ConversationID),
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(state.Messages))),
		)
	} else {
		state = &dotdir.ConversationState{}
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}
	c.state = state
	return nil
}

// send streams one answer. Ctrl+C during the stream cancels it and leaves the
// saved conversation untouched.
func (c *chatCommander) send(parent context.Context, question string) error {
	req := rag.ChatRequest{
		Message:        question,
		ConversationID: c.state.ConversationID,
		K:              int(c.topK),
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	handler := ragclient.Handler{}
	if !c.markdown {
		fmt.Fprint(c.out, assistantPrompt)
		handler.OnChunk = func(chunk rag.Chunk) {
			if content, ok := chunk.(rag.ContentChunk); ok {
				fmt.Fprint(c.out, content.Content)
			}
		}
	}

	acc, err := c.client.StreamChat(ctx, req, handler)
	if !c.markdown {
		fmt.Fprintln(c.out)
	}

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("(stopped)"))
		return nil
	case err != nil:
		return err
	case acc.Err != nil:
		return fmt.Errorf("backend error: %w", *acc.Err)
	}

	msg := acc.Message()
	if c.markdown {
		rendered, err := cliui.RenderMarkdown(msg.Content)
		if err != nil {
			c.logger.Debug("markdown rendering failed", "error", err)
		}
		fmt.Fprint(c.out, rendered)
	}
	fmt.Fprintln(c.out)
	cliui.RenderCitations(c.out, msg.Citations)
	fmt.Fprintln(c.out)

	return c.saveTurn(question, msg)
}

func (c *chatCommander) saveTurn(question string, msg rag.Message) error {
	if msg.ConversationID != "" {
		c.state.ConversationID = msg.ConversationID
	}
	c.state.UpdatedAt = time.Now().UTC()
	c.state.Messages = append(c.state.Messages,
		dotdir.ConversationMessage{Role: "user", Content: question},
		dotdir.ConversationMessage{Role: msg.Role, Content: msg.Content},
	)

	if err := c.ddm.SaveConversation(c.state, c.configDir); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

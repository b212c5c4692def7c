package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"

	"courier/internal/broker"
	"courier/internal/cli/command"
	"courier/internal/cli/state"
	"courier/internal/message"
)

// Session holds REPL state.
type Session struct {
	env      *command.Env
	commands map[string]command.Command

	watched      map[string]bool
	outputWriter *bufio.Writer
}

func New(env *command.Env, commands map[string]command.Command) *Session {
	s := &Session{
		env:          env,
		commands:     commands,
		watched:      map[string]bool{},
		outputWriter: bufio.NewWriter(os.Stdout),
	}
	env.Print = s.printLine
	return s
}

// Run drives the read-eval-print loop until EOF or exit. Outbound
// replies on the current transport are printed as they arrive.
func (s *Session) Run(ctx context.Context) {
	if err := s.watchOutbound(ctx, s.env.State.Transport); err != nil {
		s.printLine("watch outbound failed: %v", err)
	}
	if err := s.env.Broker.Start(); err != nil {
		s.printLine("start broker failed: %v", err)
		return
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		_, _ = s.outputWriter.WriteString("courier> ")
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if err != nil {
			s.printLine("bye")
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.handleSystemCommand(ctx, line) {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		os.Exit(0)
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(ctx, strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if line == "show" || strings.HasPrefix(line, "show ") {
		s.handleShow()
		return true
	}
	return false
}

func (s *Session) handleSet(ctx context.Context, args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set transport|from|sandbox <value>")
		return
	}
	switch parts[0] {
	case "transport":
		s.env.State.Transport = parts[1]
		if err := s.watchOutbound(ctx, parts[1]); err != nil {
			s.printLine("watch outbound failed: %v", err)
		}
		s.printLine("transport set to %s", parts[1])
	case "from":
		s.env.State.FromAddr = parts[1]
		s.printLine("from address set to %s", parts[1])
	case "sandbox":
		s.env.State.SandboxID = parts[1]
		s.printLine("sandbox id set to %s", parts[1])
	default:
		s.printLine("usage: set transport|from|sandbox <value>")
		return
	}
	if err := state.Save(s.env.StatePath, *s.env.State); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) handleShow() {
	s.printLine("transport: %s", s.env.State.Transport)
	s.printLine("from:      %s", s.env.State.FromAddr)
	if s.env.State.SandboxID != "" {
		s.printLine("sandbox:   %s", s.env.State.SandboxID)
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse input failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", tokens[0])
	}
	return cmd.Run(ctx, s.env, tokens[1:])
}

// watchOutbound subscribes to a transport's outbound topic once and
// prints every reply published there.
func (s *Session) watchOutbound(ctx context.Context, transport string) error {
	topic := transport + ".outbound"
	if s.watched[topic] {
		return nil
	}
	_, err := s.env.Broker.Subscribe(ctx, topic, func(ctx context.Context, bm *broker.Message) error {
		msg, err := message.DecodeUserMessage(bm.Body)
		if err != nil {
			s.printLine("<- [%s] undecodable outbound message: %v", topic, err)
			return nil
		}
		s.printOutbound(topic, msg)
		return nil
	})
	if err != nil {
		return err
	}
	s.watched[topic] = true
	return nil
}

func (s *Session) printOutbound(topic string, msg *message.UserMessage) {
	if s.env.PrettyJSON {
		formatted, err := json.MarshalIndent(msg, "", "  ")
		if err == nil {
			s.printLine("<- [%s]\n%s", topic, string(formatted))
			return
		}
	}
	s.printLine("<- [%s] %s -> %s: %s", topic, msg.FromAddr, msg.ToAddr, msg.Content)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, cmd := range s.commands {
		s.printLine("  %-52s %s", cmd.Usage, cmd.Help)
	}
	s.printLine("  %-52s %s", "set transport|from|sandbox <value>", "Change session settings")
	s.printLine("  %-52s %s", "show", "Show session settings")
	s.printLine("  %-52s %s", "exit", "Leave the shell")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}

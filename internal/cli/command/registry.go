package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"courier/internal/broker"
	"courier/internal/message"
)

// Registry returns the REPL's command set keyed by verb.
func Registry() map[string]Command {
	commands := map[string]Command{}
	for _, cmd := range []Command{
		sendCommand(),
		eventCommand(),
		kvCommand(),
		statusCommand(),
	} {
		commands[cmd.Name] = cmd
	}
	return commands
}

func sendCommand() Command {
	return Command{
		Name:  "send",
		Usage: "send <to_addr> <text...>",
		Help:  "Inject an inbound user message on <transport>.inbound",
		Run: func(ctx context.Context, env *Env, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: send <to_addr> <text...>")
			}
			msg := message.NewOutbound(args[0], env.State.FromAddr, strings.Join(args[1:], " "))
			msg.TransportName = env.State.Transport
			msg.SandboxID = env.State.SandboxID
			if err := publish(ctx, env, env.State.Transport+".inbound", msg.MessageID, msg); err != nil {
				return err
			}
			env.Print("sent message %s", msg.MessageID)
			return nil
		},
	}
}

func eventCommand() Command {
	return Command{
		Name:  "event",
		Usage: "event ack|nack|dr <user_message_id> [detail]",
		Help:  "Inject a transport event on <transport>.event",
		Run: func(ctx context.Context, env *Env, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: event ack|nack|dr <user_message_id> [detail]")
			}
			detail := ""
			if len(args) > 2 {
				detail = strings.Join(args[2:], " ")
			}

			var ev *message.Event
			switch args[0] {
			case "ack":
				if detail == "" {
					detail = "remote-" + args[1]
				}
				ev = message.NewAck(args[1], detail)
			case "nack":
				if detail == "" {
					detail = "unknown"
				}
				ev = message.NewNack(args[1], detail)
			case "dr":
				if detail == "" {
					detail = message.DeliveryDelivered
				}
				ev = message.NewDeliveryReport(args[1], detail)
			default:
				return fmt.Errorf("unknown event type %q, use ack, nack or dr", args[0])
			}
			ev.SandboxID = env.State.SandboxID

			if err := publish(ctx, env, env.State.Transport+".event", ev.EventID, ev); err != nil {
				return err
			}
			env.Print("sent %s event %s", ev.EventType, ev.EventID)
			return nil
		},
	}
}

func kvCommand() Command {
	return Command{
		Name:  "kv",
		Usage: "kv get <sandbox_id> <key> | kv keys <sandbox_id> | kv count <sandbox_id>",
		Help:  "Inspect a sandbox session's key-value namespace",
		Run: func(ctx context.Context, env *Env, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: %s", "kv get <sandbox_id> <key> | kv keys <sandbox_id> | kv count <sandbox_id>")
			}
			switch args[0] {
			case "get":
				if len(args) != 3 {
					return fmt.Errorf("usage: kv get <sandbox_id> <key>")
				}
				value, err := env.Store.Get(ctx, fmt.Sprintf("sandboxes#%s#%s", args[1], args[2]))
				if err != nil {
					return err
				}
				if value == "" {
					env.Print("(nil)")
					return nil
				}
				env.Print("%s", value)
			case "keys":
				keys, err := env.Store.Keys(ctx, fmt.Sprintf("sandboxes#%s#*", args[1]))
				if err != nil {
					return err
				}
				prefix := fmt.Sprintf("sandboxes#%s#", args[1])
				for _, key := range keys {
					env.Print("%s", strings.TrimPrefix(key, prefix))
				}
				env.Print("(%d keys)", len(keys))
			case "count":
				count, err := env.Store.Get(ctx, fmt.Sprintf("count#%s", args[1]))
				if err != nil {
					return err
				}
				if count == "" {
					count = "0"
				}
				env.Print("%s", count)
			default:
				return fmt.Errorf("unknown kv action %q", args[0])
			}
			return nil
		},
	}
}

func statusCommand() Command {
	return Command{
		Name:  "status",
		Usage: "status",
		Help:  "Fetch the worker's status endpoint",
		Run: func(ctx context.Context, env *Env, args []string) error {
			resp, err := env.Status.Get(ctx, "/api/v1/worker/status")
			if err != nil {
				return err
			}
			env.Print("HTTP %d (%s)", resp.StatusCode, resp.Duration)
			if len(resp.Body) == 0 {
				return nil
			}
			if env.PrettyJSON {
				var raw interface{}
				if err := json.Unmarshal(resp.Body, &raw); err == nil {
					formatted, _ := json.MarshalIndent(raw, "", "  ")
					env.Print("%s", string(formatted))
					return nil
				}
			}
			env.Print("%s", string(resp.Body))
			return nil
		},
	}
}

func publish(ctx context.Context, env *Env, topic, id string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload failed: %w", err)
	}
	bm := broker.NewMessage(body)
	bm.ID = id
	return env.Broker.Publish(ctx, topic, bm)
}

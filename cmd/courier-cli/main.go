package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"courier/internal/broker"
	"courier/internal/cli/command"
	"courier/internal/cli/config"
	httpclient "courier/internal/cli/http"
	"courier/internal/cli/repl"
	"courier/internal/cli/state"
	"courier/internal/kvstore"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	statusURL := flag.String("status", "", "Override worker status URL")
	transport := flag.String("transport", "", "Override transport name")
	fromAddr := flag.String("from", "", "Override the injected from address")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print outbound messages")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *statusURL != "" {
		cfg.StatusURL = *statusURL
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		return
	}
	if sessionState.Transport == "" {
		sessionState.Transport = cfg.Transport
	}
	if sessionState.FromAddr == "" {
		sessionState.FromAddr = cfg.FromAddr
	}
	if *transport != "" {
		sessionState.Transport = *transport
	}
	if *fromAddr != "" {
		sessionState.FromAddr = *fromAddr
	}

	kafkaBroker, err := broker.NewKafkaBroker(broker.KafkaConfig{Brokers: cfg.KafkaBrokers})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init kafka failed: %v\n", err)
		return
	}
	defer func() {
		_ = kafkaBroker.Close()
	}()

	store, err := kvstore.NewRedisStore(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init redis failed: %v\n", err)
		return
	}
	defer func() {
		_ = store.Close()
	}()

	env := &command.Env{
		Broker:     kafkaBroker,
		Store:      store,
		Status:     httpclient.New(cfg.StatusURL, cfg.Timeout),
		State:      &sessionState,
		StatePath:  cfg.StatePath,
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
	}
	session := repl.New(env, command.Registry())
	session.Run(context.Background())
}

// rtvi-chat is a terminal client for an RTVI service: it connects over
// WebSocket, declares a session profile (services, pipeline, tools) from a
// YAML file, prints session events, and invokes actions typed on stdin as
// `service:action {"json":"args"}`.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rtvi-ai/rtvi-client-go/internal/dotenv"
	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
	"github.com/rtvi-ai/rtvi-client-go/pkg/transport"
	rtvi "github.com/rtvi-ai/rtvi-client-go/sdk"
)

const (
	defaultURL     = "ws://127.0.0.1:8080/rtvi"
	defaultTimeout = 30 * time.Second
)

type chatConfig struct {
	URL           string
	ProfilePath   string
	APIKey        string
	ActionTimeout time.Duration
	Verbose       bool
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("rtvi-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.URL, "url", defaultURL, "RTVI service WebSocket URL")
	fs.StringVar(&cfg.ProfilePath, "profile", "", "optional YAML session profile (services, pipeline)")
	fs.StringVar(&cfg.APIKey, "api-key", strings.TrimSpace(getenv("RTVI_API_KEY")), "optional bearer token (or RTVI_API_KEY)")
	fs.DurationVar(&cfg.ActionTimeout, "action-timeout", defaultTimeout, "per-action timeout (e.g. 30s)")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

// sessionProfile mirrors the wire config document in YAML form.
type sessionProfile struct {
	Services []struct {
		Service string `yaml:"service"`
		Options []struct {
			Name  string `yaml:"name"`
			Value any    `yaml:"value"`
		} `yaml:"options"`
	} `yaml:"services"`
	Pipeline struct {
		Stages []string `yaml:"stages"`
	} `yaml:"pipeline"`
}

func loadProfile(path string) (*sessionProfile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %q: %w", path, err)
	}
	var profile sessionProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &profile, nil
}

func (p *sessionProfile) serviceConfig() ([]protocol.ServiceConfig, error) {
	if p == nil || len(p.Services) == 0 {
		return nil, nil
	}
	config := make([]protocol.ServiceConfig, 0, len(p.Services))
	for _, svc := range p.Services {
		entry := protocol.ServiceConfig{Service: svc.Service}
		for _, opt := range svc.Options {
			value, err := json.Marshal(opt.Value)
			if err != nil {
				return nil, fmt.Errorf("encode option %s.%s: %w", svc.Service, opt.Name, err)
			}
			entry.Options = append(entry.Options, protocol.Option{Name: opt.Name, Value: value})
		}
		config = append(config, entry)
	}
	return config, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := dotenv.Load(); err != nil {
		return err
	}
	cfg, err := parseChatConfig(args, os.Getenv)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	profile, err := loadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}

	var transportOpts []transport.WebSocketOption
	if cfg.APIKey != "" {
		transportOpts = append(transportOpts, transport.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	ws, err := transport.NewWebSocket(cfg.URL, transportOpts...)
	if err != nil {
		return err
	}

	clientOpts := []rtvi.ClientOption{
		rtvi.WithLogger(logger),
		rtvi.WithActionTimeout(cfg.ActionTimeout),
	}
	if profile != nil && len(profile.Pipeline.Stages) > 0 {
		clientOpts = append(clientOpts, rtvi.WithPipeline(profile.Pipeline.Stages, nil))
	}
	client := rtvi.NewClient(ws, clientOpts...)

	printEvent := func(label string) rtvi.EventHandler {
		return func(payload json.RawMessage) {
			if len(payload) > 0 {
				fmt.Printf("[%s] %s\n", label, payload)
				return
			}
			fmt.Printf("[%s]\n", label)
		}
	}
	client.On(protocol.EventBotReady, printEvent("bot-ready"))
	client.On(protocol.EventUserTranscription, printEvent("you"))
	client.On(protocol.EventBotTranscription, printEvent("bot"))
	client.On(protocol.EventBotStartedSpeaking, printEvent("bot-started-speaking"))
	client.On(protocol.EventBotStoppedSpeaking, printEvent("bot-stopped-speaking"))
	client.On(protocol.EventError, printEvent("error"))
	client.On(protocol.EventDisconnected, printEvent("disconnected"))

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = client.Disconnect() }()

	if config, err := profile.serviceConfig(); err != nil {
		return err
	} else if len(config) > 0 {
		if err := client.UpdateConfig(context.Background(), config); err != nil {
			return fmt.Errorf("apply profile config: %w", err)
		}
		fmt.Println("profile configuration acknowledged")
	}

	fmt.Printf("session %s ready; type service:action {\"json\":\"args\"} (Ctrl-D to quit)\n", client.SessionID())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		service, action, args, err := parseActionLine(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid input:", err)
			continue
		}
		result, err := client.Invoke(context.Background(), service, action, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "action failed:", err)
			continue
		}
		if len(result) > 0 {
			fmt.Printf("=> %s\n", result)
		} else {
			fmt.Println("=> ok")
		}
	}
	return scanner.Err()
}

// parseActionLine splits `service:action {"name":"value"}` into an action
// invocation. The JSON object, when present, becomes named arguments.
func parseActionLine(line string) (service, action string, args []protocol.Argument, err error) {
	target := line
	var rawArgs string
	if idx := strings.IndexAny(line, " \t"); idx > 0 {
		target = line[:idx]
		rawArgs = strings.TrimSpace(line[idx+1:])
	}

	parts := strings.SplitN(target, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", nil, fmt.Errorf("expected service:action, got %q", target)
	}
	service = strings.TrimSpace(parts[0])
	action = strings.TrimSpace(parts[1])

	if rawArgs == "" {
		return service, action, nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawArgs), &doc); err != nil {
		return "", "", nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	for name, value := range doc {
		args = append(args, protocol.Argument{Name: name, Value: value})
	}
	return service, action, args, nil
}

// Command storyrt is a minimal reference terminal driver for the
// narrative runtime. It wires a config file, a scene file, and an
// optional roster of LLM contributors into one interactive session and
// prints each turn's merged narration and choices to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"orchestrator/pkg/config"
	"orchestrator/pkg/contributor"
	"orchestrator/pkg/coordinator"
	"orchestrator/pkg/llm"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/providers/anthropic"
	"orchestrator/pkg/providers/gemini"
	"orchestrator/pkg/providers/ollama"
	"orchestrator/pkg/providers/openai"
	"orchestrator/pkg/scene"
	"orchestrator/pkg/sceneengine"
	"orchestrator/pkg/session"
	"orchestrator/pkg/toolregistry"
)

const defaultMaxContextTokens = 100_000

func main() {
	configPath := flag.String("config", "config.yaml", "path to the session config file")
	snapshotPath := flag.String("snapshot", "", "resume from a previously saved snapshot file")
	debugDomains := flag.String("debug-domains", "", "comma-separated debug domains to enable (e.g. scene,coordinator,contributor)")
	flag.Parse()

	if *debugDomains != "" {
		logx.SetDebugDomains(strings.Split(*debugDomains, ","))
	}

	logger := logx.NewLogger("storyrt")

	if err := run(*configPath, *snapshotPath, logger); err != nil {
		fmt.Fprintln(os.Stderr, "storyrt:", err)
		os.Exit(1)
	}
}

func run(configPath, snapshotPath string, logger *logx.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := unlockSecrets(logger); err != nil {
		return fmt.Errorf("unlock secrets: %w", err)
	}

	repo, err := scene.Load(cfg.ScenePath, scene.Options{StrictSchema: cfg.StrictSchema})
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}

	startScene := cfg.StartScene
	if startScene == "" {
		startScene = repo.StartScene()
	}

	engine := sceneengine.New(repo, toolregistry.NewRegistry())
	primary := sceneengine.NewPrimaryContributor(engine)

	secondaries, policies, err := buildSecondaries(cfg, repo)
	if err != nil {
		return fmt.Errorf("build contributors: %w", err)
	}

	sess, err := session.NewSession(repo, startScene, primary, secondaries, policies, session.Options{
		MemoryCapacity: cfg.MemoryCapacity,
		Recorder:       metrics.NewPrometheusRecorder(),
	})
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}

	if snapshotPath != "" {
		data, err := os.ReadFile(snapshotPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := sess.Restore(data); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info("resumed session from %s at turn %d", snapshotPath, sess.Turn())
	}

	return repl(sess, cfg)
}

// buildSecondaries constructs one contributor.CoordinatorAdapter per
// configured roster entry, resolving each provider kind to its client
// adapter and its API key from the named environment variable.
func buildSecondaries(cfg config.Config, repo *scene.Repository) ([]coordinator.Contributor, map[string]coordinator.IsolationPolicy, error) {
	var secondaries []coordinator.Contributor
	policies := make(map[string]coordinator.IsolationPolicy)

	for _, rc := range cfg.Contributors {
		client, err := newProviderClient(rc)
		if err != nil {
			return nil, nil, fmt.Errorf("contributor %q: %w", rc.ID, err)
		}

		c := contributor.New(contributor.Config{
			ID:                      rc.ID,
			ModelID:                 rc.ModelID,
			SystemPrompt:            rc.SystemPrompt,
			Client:                  client,
			Temperature:             rc.Temperature,
			SubscribesToPlayerInput: rc.SubscribesToPlayerInput,
			HistoryWindow:           cfg.DefaultActionWindow,
		})
		secondaries = append(secondaries, contributor.NewCoordinatorAdapter(c, repo.Get))
		if rc.IsolationPolicy != "" {
			policies[rc.ID] = rc.IsolationPolicy
		}
	}
	return secondaries, policies, nil
}

// unlockSecrets decrypts the project's .storyrt/secrets.json.enc file, if
// one exists, so provider credentials stored there satisfy
// config.GetSecret before resolveAPIKey falls back to the environment or
// an interactive prompt. Does nothing when no secrets file is present or
// stdin is not a terminal.
func unlockSecrets(logger *logx.Logger) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if !config.SecretsFileExists(cwd) {
		return nil
	}
	if !term.IsTerminal(syscall.Stdin) {
		logger.Warn("secrets file present but stdin is not a terminal; skipping")
		return nil
	}

	fmt.Print("Enter password to unlock stored provider secrets: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read secrets password: %w", err)
	}
	password := string(passwordBytes)
	for i := range passwordBytes {
		passwordBytes[i] = 0
	}

	secrets, err := config.DecryptSecretsFile(cwd, password)
	if err != nil {
		return fmt.Errorf("decrypt secrets file: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	logger.Info("unlocked %d stored secret(s)", len(secrets))
	return nil
}

// newProviderClient resolves one configured roster entry to a concrete
// llm.Client, reading its credential from the named environment variable
// and falling back to an interactive hidden prompt when it is unset
// (left unused for ollama, which needs only a host URL).
func newProviderClient(rc config.ContributorConfig) (llm.Client, error) {
	switch rc.ProviderKind {
	case "anthropic":
		key, err := resolveAPIKey(rc)
		if err != nil {
			return nil, err
		}
		return anthropic.New(key, rc.ModelID, defaultMaxContextTokens), nil
	case "openai":
		key, err := resolveAPIKey(rc)
		if err != nil {
			return nil, err
		}
		return openai.New(key, rc.BaseURL, rc.ModelID, defaultMaxContextTokens), nil
	case "gemini":
		key, err := resolveAPIKey(rc)
		if err != nil {
			return nil, err
		}
		return gemini.New(key, rc.ModelID, defaultMaxContextTokens), nil
	case "ollama":
		host := rc.BaseURL
		if host == "" {
			host = "http://localhost:11434"
		}
		return ollama.New(host, rc.ModelID, defaultMaxContextTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider_kind %q", rc.ProviderKind)
	}
}

// resolveAPIKey looks up a contributor's credential under its configured
// api_key_env name, first in the unlocked secrets store and then in the
// environment, prompting once at a hidden terminal input if neither has it
// and stdin is a terminal.
func resolveAPIKey(rc config.ContributorConfig) (string, error) {
	if key, err := config.GetSecret(rc.APIKeyEnv); err == nil {
		return key, nil
	}
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("environment variable %s is not set", rc.APIKeyEnv)
	}

	fmt.Printf("Enter API key for contributor %q (%s): ", rc.ID, rc.APIKeyEnv)
	keyBytes, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read API key for %q: %w", rc.ID, err)
	}
	key := string(keyBytes)
	for i := range keyBytes {
		keyBytes[i] = 0
	}
	if key == "" {
		return "", fmt.Errorf("no API key entered for contributor %q", rc.ID)
	}
	return key, nil
}

func repl(sess *session.Session, cfg config.Config) error {
	reader := bufio.NewReader(os.Stdin)
	sessionStart := time.Now()
	fmt.Println("--- storyrt ---")
	fmt.Println("Type a command and press Enter. Ctrl+D to quit.")
	fmt.Println("Prefix a line with 'debuglog' to print recent debug history instead of advancing the turn.")

	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "debuglog" || strings.HasPrefix(input, "debuglog ") {
			printRecentDebugLog(input, sessionStart)
			continue
		}

		event, err := sess.Advance(context.Background(), input, cfg.TurnDeadline())
		if err != nil {
			return fmt.Errorf("session corrupted: %w", err)
		}

		fmt.Println()
		fmt.Println(event.Narration)
		if len(event.Choices) > 0 {
			var cmds []string
			for _, ch := range event.Choices {
				cmds = append(cmds, ch.Command)
			}
			fmt.Println("Choices:", strings.Join(cmds, ", "))
		}
	}
}

// printRecentDebugLog handles the "debuglog" and "debuglog <domain>" REPL
// commands, dumping everything logx has buffered in-process since the
// session started rather than requiring a driver restart with DEBUG_FILE set.
func printRecentDebugLog(input string, since time.Time) {
	domain := ""
	if fields := strings.Fields(input); len(fields) > 1 {
		domain = fields[1]
	}
	entries := logx.GetRecentLogEntries(domain, since)
	if len(entries) == 0 {
		fmt.Println("(no debug entries buffered; enable with -debug-domains or DEBUG=1)")
		return
	}
	for _, e := range entries {
		fmt.Printf("[%s][%s] %s\n", e.Domain, e.AgentID, e.Message)
	}
}

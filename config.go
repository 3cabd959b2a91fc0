package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db"`   // database connection string
	Dev  bool   `json:"dev"`  // dev mode: verbose logging
	Addr string `json:"addr"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogDB        bool   `json:"log_db"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// Game
	Players            string `json:"players"` // comma-separated player names
	MinPlayers         int    `json:"min_players"`
	MaxPlayers         int    `json:"max_players"`
	DiscussionRounds   int    `json:"discussion_rounds"`    // table-talk passes per day
	ProviderTimeoutSec int    `json:"provider_timeout_sec"` // per-decision agent timeout

	// AI agents and narrator
	LLMProvider   string `json:"llm_provider"`   // ollama | openai | claude | gemini | groq | openai-compatible
	AgentModel    string `json:"agent_model"`    // model for player agents
	NarratorModel string `json:"narrator_model"` // model for the narrator
	OllamaURL     string `json:"ollama_url"`     // Ollama server URL
	BaseURL       string `json:"base_url"`       // base URL for openai-compatible
	APIKey        string `json:"api_key"`        // API key for openai-compatible
	Temperature   string `json:"temperature"`    // float 0-1 as string
	Thinking      string `json:"thinking"`       // none | low | medium | high | auto
	GroqAPIKey    string `json:"groq_api_key"`   // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

// playerNames splits the configured roster into trimmed names.
func (cfg AppConfig) playerNames() []string {
	var names []string
	for _, part := range strings.Split(cfg.Players, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                 "file::memory:?cache=shared",
		Addr:               ":8080",
		Players:            "Alice,Bob,Charlie,Diana,Ethan,Fiona,George,Hannah",
		MinPlayers:         5,
		MaxPlayers:         12,
		DiscussionRounds:   2,
		ProviderTimeoutSec: 30,
		OllamaURL:          "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string) (val int, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Config: invalid %s=%q: %v", key, v, err)
			return 0, false
		}
		return n, true
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_DB"); ok {
		cfg.LogDB = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("PLAYERS"); v != "" {
		cfg.Players = v
	}
	if v, ok := envInt("MIN_PLAYERS"); ok {
		cfg.MinPlayers = v
	}
	if v, ok := envInt("MAX_PLAYERS"); ok {
		cfg.MaxPlayers = v
	}
	if v, ok := envInt("DISCUSSION_ROUNDS"); ok {
		cfg.DiscussionRounds = v
	}
	if v, ok := envInt("PROVIDER_TIMEOUT_SEC"); ok {
		cfg.ProviderTimeoutSec = v
	}
	if v := envStr("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := envStr("AGENT_MODEL"); v != "" {
		cfg.AgentModel = v
	}
	if v := envStr("NARRATOR_MODEL"); v != "" {
		cfg.NarratorModel = v
	}
	if v := envStr("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := envStr("BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := envStr("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := envStr("TEMPERATURE"); v != "" {
		cfg.Temperature = v
	}
	if v := envStr("THINKING"); v != "" {
		cfg.Thinking = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 2: JSON config file; only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	str("db", &cfg.DB)
	boolean("dev", &cfg.Dev)
	str("addr", &cfg.Addr)
	str("log_output_dir", &cfg.LogOutputDir)
	boolean("log_requests", &cfg.LogRequests)
	boolean("log_db", &cfg.LogDB)
	boolean("log_ws", &cfg.LogWS)
	boolean("log_debug", &cfg.LogDebug)
	str("players", &cfg.Players)
	integer("min_players", &cfg.MinPlayers)
	integer("max_players", &cfg.MaxPlayers)
	integer("discussion_rounds", &cfg.DiscussionRounds)
	integer("provider_timeout_sec", &cfg.ProviderTimeoutSec)
	str("llm_provider", &cfg.LLMProvider)
	str("agent_model", &cfg.AgentModel)
	str("narrator_model", &cfg.NarratorModel)
	str("ollama_url", &cfg.OllamaURL)
	str("base_url", &cfg.BaseURL)
	str("api_key", &cfg.APIKey)
	str("temperature", &cfg.Temperature)
	str("thinking", &cfg.Thinking)
	str("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath         *string
	db                 *string
	dev                *bool
	addr               *string
	simulate           *bool
	logOutputDir       *string
	logRequests        *bool
	logDB              *bool
	logWS              *bool
	logDebug           *bool
	players            *string
	minPlayers         *int
	maxPlayers         *int
	discussionRounds   *int
	providerTimeoutSec *int
	llmProvider        *string
	agentModel         *string
	narratorModel      *string
	ollamaURL          *string
	baseURL            *string
	apiKey             *string
	temperature        *string
	thinking           *string
	groqAPIKey         *string
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags() flagValues {
	return flagValues{
		configPath:         flag.String("config", "config.json", "path to JSON config file"),
		db:                 flag.String("db", "", "database connection string"),
		dev:                flag.Bool("dev", false, "enable development mode (verbose logging)"),
		addr:               flag.String("addr", "", "HTTP listen address (e.g. :8080)"),
		simulate:           flag.Bool("simulate", false, "run one full game in the terminal and exit"),
		logOutputDir:       flag.String("log-output-dir", "", "directory for extended log files"),
		logRequests:        flag.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:              flag.Bool("log-db", false, "log database operations"),
		logWS:              flag.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:           flag.Bool("log-debug", false, "enable debug logging"),
		players:            flag.String("players", "", "comma-separated player names"),
		minPlayers:         flag.Int("min-players", 0, "minimum player count"),
		maxPlayers:         flag.Int("max-players", 0, "maximum player count"),
		discussionRounds:   flag.Int("discussion-rounds", 0, "table-talk passes per day phase"),
		providerTimeoutSec: flag.Int("provider-timeout-sec", 0, "per-decision agent timeout in seconds"),
		llmProvider:        flag.String("llm-provider", "", "LLM provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		agentModel:         flag.String("agent-model", "", "model name for player agents"),
		narratorModel:      flag.String("narrator-model", "", "model name for the narrator"),
		ollamaURL:          flag.String("ollama-url", "", "Ollama server URL"),
		baseURL:            flag.String("base-url", "", "base URL for openai-compatible provider"),
		apiKey:             flag.String("api-key", "", "API key for openai-compatible provider"),
		temperature:        flag.String("temperature", "", "sampling temperature 0-1"),
		thinking:           flag.String("thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:         flag.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "players":
			cfg.Players = *fv.players
		case "min-players":
			cfg.MinPlayers = *fv.minPlayers
		case "max-players":
			cfg.MaxPlayers = *fv.maxPlayers
		case "discussion-rounds":
			cfg.DiscussionRounds = *fv.discussionRounds
		case "provider-timeout-sec":
			cfg.ProviderTimeoutSec = *fv.providerTimeoutSec
		case "llm-provider":
			cfg.LLMProvider = *fv.llmProvider
		case "agent-model":
			cfg.AgentModel = *fv.agentModel
		case "narrator-model":
			cfg.NarratorModel = *fv.narratorModel
		case "ollama-url":
			cfg.OllamaURL = *fv.ollamaURL
		case "base-url":
			cfg.BaseURL = *fv.baseURL
		case "api-key":
			cfg.APIKey = *fv.apiKey
		case "temperature":
			cfg.Temperature = *fv.temperature
		case "thinking":
			cfg.Thinking = *fv.thinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}

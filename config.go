package main

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`

	DBPath    string `yaml:"db_path"`
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`

	CodebookSheet      string `yaml:"codebook_sheet"`
	LabelLocale        string `yaml:"label_locale"`
	ManualMappingsPath string `yaml:"manual_mappings_path"`

	SessionTTLHours int    `yaml:"session_ttl_hours"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.WorkDir, "WORK_DIR")
	envOverride(&cfg.OutputDir, "OUTPUT_DIR")
	envOverride(&cfg.CodebookSheet, "CODEBOOK_SHEET")
	envOverride(&cfg.LabelLocale, "LABEL_LOCALE")
	envOverride(&cfg.ManualMappingsPath, "MANUAL_MAPPINGS_PATH")
	envOverrideInt(&cfg.SessionTTLHours, "SESSION_TTL_HOURS")
	envOverride(&cfg.CleanupSchedule, "CLEANUP_SCHEDULE")

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./surveycoder.db"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./sessions"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./outputs"
	}
	if cfg.CodebookSheet == "" {
		cfg.CodebookSheet = "Codificación"
	}
	if cfg.LabelLocale == "" {
		cfg.LabelLocale = "es"
	}
	if cfg.SessionTTLHours == 0 {
		cfg.SessionTTLHours = 24
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 * * * *"
	}

	// Validate required fields
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Fatalf("gemini_api_key is required when llm_provider=gemini")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", cfg.LLMProvider)
	}

	if cfg.SessionTTLHours < 1 {
		log.Fatalf("invalid session_ttl_hours '%d': must be >= 1", cfg.SessionTTLHours)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

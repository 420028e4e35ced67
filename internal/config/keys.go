package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GRACE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GRACE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "GRACE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},

	// LLM
	{
		key: "llm.provider", typ: kString, env: "GRACE_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "GRACE_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "GRACE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "GRACE_OPENAI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.xai_api_key", typ: kString, env: "GRACE_XAI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.XAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.XAIAPIKey },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "GRACE_OPENROUTER_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.ollama_base_url", typ: kString, env: "GRACE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaBaseURL },
	},
	{
		key: "llm.ollama_model", typ: kString, env: "GRACE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaModel },
	},
	{
		key: "llm.decision_timeout", typ: kDuration, env: "GRACE_LLM_DECISION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.DecisionTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.DecisionTimeout },
	},
	{
		key: "llm.chat_timeout", typ: kDuration, env: "GRACE_LLM_CHAT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.ChatTimeout },
	},
	{
		key: "llm.chat_window", typ: kInt, env: "GRACE_LLM_CHAT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.ChatWindow },
	},

	// Sources
	{
		key: "gmail.access_token", typ: kString, env: "GRACE_GMAIL_ACCESS_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gmail.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.AccessToken },
	},
	{
		key: "gmail.max_results", typ: kInt, env: "GRACE_GMAIL_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Gmail.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Gmail.MaxResults },
	},
	{
		key: "calendar.access_token", typ: kString, env: "GRACE_CALENDAR_ACCESS_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Calendar.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.AccessToken },
	},
	{
		key: "calendar.calendar_id", typ: kString, env: "GRACE_CALENDAR_ID",
		apply:   func(cfg *Config, v any) { cfg.Calendar.CalendarID = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.CalendarID },
	},
	{
		key: "calendar.window", typ: kDuration, env: "GRACE_CALENDAR_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Calendar.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Calendar.Window },
	},
	{
		key: "calendar.max_results", typ: kInt, env: "GRACE_CALENDAR_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Calendar.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Calendar.MaxResults },
	},
	{
		key: "wyze.access_token", typ: kString, env: "GRACE_WYZE_ACCESS_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Wyze.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Wyze.AccessToken },
	},
	{
		key: "wyze.camera_name", typ: kString, env: "GRACE_WYZE_CAMERA_NAME",
		apply:   func(cfg *Config, v any) { cfg.Wyze.CameraName = v.(string) },
		extract: func(cfg Config) any { return cfg.Wyze.CameraName },
	},
	{
		key: "wyze.camera_mac", typ: kString, env: "GRACE_WYZE_CAMERA_MAC",
		apply:   func(cfg *Config, v any) { cfg.Wyze.CameraMAC = v.(string) },
		extract: func(cfg Config) any { return cfg.Wyze.CameraMAC },
	},
	{
		key: "wyze.lookback", typ: kDuration, env: "GRACE_WYZE_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Wyze.Lookback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Wyze.Lookback },
	},

	// Notifications
	{
		key: "twilio.account_sid", typ: kString, env: "GRACE_TWILIO_ACCOUNT_SID",
		apply:   func(cfg *Config, v any) { cfg.Twilio.AccountSID = v.(string) },
		extract: func(cfg Config) any { return cfg.Twilio.AccountSID },
	},
	{
		key: "twilio.api_key", typ: kString, env: "GRACE_TWILIO_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Twilio.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Twilio.APIKey },
	},
	{
		key: "twilio.api_secret", typ: kString, env: "GRACE_TWILIO_API_SECRET", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Twilio.APISecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Twilio.APISecret },
	},
	{
		key: "twilio.from_number", typ: kString, env: "GRACE_TWILIO_FROM_NUMBER",
		apply:   func(cfg *Config, v any) { cfg.Twilio.FromNumber = v.(string) },
		extract: func(cfg Config) any { return cfg.Twilio.FromNumber },
	},
	{
		key: "notify.phone", typ: kString, env: "GRACE_NOTIFY_PHONE",
		apply:   func(cfg *Config, v any) { cfg.Notify.Phone = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Phone },
	},

	// Home
	{
		key: "weather.api_key", typ: kString, env: "GRACE_WEATHER_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Weather.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Weather.APIKey },
	},
	{
		key: "weather.city", typ: kString, env: "GRACE_WEATHER_CITY",
		apply:   func(cfg *Config, v any) { cfg.Weather.City = v.(string) },
		extract: func(cfg Config) any { return cfg.Weather.City },
	},
	{
		key: "lights.endpoint", typ: kString, env: "GRACE_LIGHTS_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Lights.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Lights.Endpoint },
	},
	{
		key: "lights.api_key", typ: kString, env: "GRACE_LIGHTS_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Lights.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Lights.APIKey },
	},

	// Schedule
	{
		key: "schedule.email", typ: kDuration, env: "GRACE_SCHEDULE_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Email = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Schedule.Email },
	},
	{
		key: "schedule.calendar", typ: kDuration, env: "GRACE_SCHEDULE_CALENDAR",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Calendar = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Schedule.Calendar },
	},
	{
		key: "schedule.camera", typ: kDuration, env: "GRACE_SCHEDULE_CAMERA",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Camera = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Schedule.Camera },
	},
}

// EnvFor returns the environment variable for a config key, or "".
func EnvFor(key string) string {
	s, _ := lookup(key)
	return s.env
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

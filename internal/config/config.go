package config

import (
	"strings"
	"time"
)

// Config is the full service configuration. Missing credentials are not an
// error: the integration they belong to is simply left unconfigured.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	LLM      LLMConfig
	Gmail    GmailConfig
	Calendar CalendarConfig
	Wyze     WyzeConfig
	Twilio   TwilioConfig
	Notify   NotifyConfig
	Weather  WeatherConfig
	Lights   LightsConfig
	Schedule ScheduleConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type LLMConfig struct {
	// Provider is one of auto, ollama, openai, xai, openrouter.
	Provider         string
	Model            string
	BaseURL          string
	OpenAIAPIKey     string
	XAIAPIKey        string
	OpenRouterAPIKey string
	OllamaBaseURL    string
	OllamaModel      string
	DecisionTimeout  time.Duration
	ChatTimeout      time.Duration
	ChatWindow       int
}

type GmailConfig struct {
	AccessToken string
	MaxResults  int
}

type CalendarConfig struct {
	AccessToken string
	CalendarID  string
	Window      time.Duration
	MaxResults  int
}

type WyzeConfig struct {
	AccessToken string
	CameraName  string
	CameraMAC   string
	Lookback    time.Duration
}

type TwilioConfig struct {
	AccountSID string
	APIKey     string
	APISecret  string
	FromNumber string
}

type NotifyConfig struct {
	Phone string
}

type WeatherConfig struct {
	APIKey string
	City   string
}

type LightsConfig struct {
	Endpoint string
	APIKey   string
}

type ScheduleConfig struct {
	Email    time.Duration
	Calendar time.Duration
	Camera   time.Duration
}

var defaultCloudModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"xai":        "grok-2-1212",
	"openrouter": "openai/gpt-4o-mini",
}

// ModelFor returns the model to use with the named backend.
func (c LLMConfig) ModelFor(backend string) string {
	if backend == "ollama" {
		return c.OllamaModel
	}
	if c.Model != "" {
		return c.Model
	}
	return defaultCloudModels[backend]
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider:        "auto",
			OllamaBaseURL:   "http://localhost:11434",
			OllamaModel:     "llama3.2",
			DecisionTimeout: 15 * time.Second,
			ChatTimeout:     2 * time.Minute,
			ChatWindow:      5,
		},
		Gmail: GmailConfig{
			MaxResults: 5,
		},
		Calendar: CalendarConfig{
			CalendarID: "primary",
			Window:     4 * time.Hour,
			MaxResults: 10,
		},
		Wyze: WyzeConfig{
			CameraName: "Front Door",
			Lookback:   15 * time.Minute,
		},
		Weather: WeatherConfig{
			City: "Portland",
		},
		Schedule: ScheduleConfig{
			Email:    10 * time.Minute,
			Calendar: 30 * time.Minute,
			Camera:   5 * time.Minute,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.grace.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/grace/config.json
// and secrets fall back to $XDG_DATA_HOME/grace/secrets.json.
//
// Environment variables (GRACE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	return cfg, nil
}

// applySecrets fills secrets that the environment left empty from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get(keychainService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// secretAccount maps a config key to its secret store account name.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server          ServerSettings         `json:"server"`
	Storage         StorageSettings        `json:"storage"`
	Catalog         CatalogSettings        `json:"catalog"`
	AI              AISettings             `json:"ai"`
	Remote          RemoteSettings         `json:"remote"`
	Sync            SyncSettings           `json:"sync"`
	Recommendations RecommendationSettings `json:"recommendations"`
	Credits         CreditSettings         `json:"credits"`
	Log             LogConfig              `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	PIN  string `json:"pin"`
}

type StorageSettings struct {
	Directory    string `json:"directory"`
	DatabasePath string `json:"databasePath"`
}

type CatalogSettings struct {
	TMDBAPIKey string `json:"tmdbApiKey"`
	Language   string `json:"language"`
}

type AISettings struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
	// BaseURL overrides the generation endpoint, mainly for tests.
	BaseURL string `json:"baseUrl,omitempty"`
}

type RemoteSettings struct {
	BaseURL             string `json:"baseUrl"`
	APIKey              string `json:"apiKey"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

type SyncSettings struct {
	DebounceMS        int `json:"debounceMs"`
	IntervalSeconds   int `json:"intervalSeconds"`
	MaxParallelPushes int `json:"maxParallelPushes"`
}

type RecommendationSettings struct {
	Target    int `json:"target"`
	MaxRounds int `json:"maxRounds"`
	// OverRequest is added to each round's remaining count to absorb
	// candidates lost to exclusion and failed catalog matches.
	OverRequest int `json:"overRequest"`
}

type CreditSettings struct {
	// SignupGrant is pushed as the initial balance for a profile that has no
	// remote balance yet.
	SignupGrant int `json:"signupGrant"`
	// RefundOnFailure re-credits the generation fee when the pipeline fails
	// outright. Off by default.
	RefundOnFailure bool `json:"refundOnFailure"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first boot.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 7474,
		},
		Storage: StorageSettings{
			Directory:    "cache",
			DatabasePath: filepath.Join("cache", "reelay.db"),
		},
		Catalog: CatalogSettings{
			Language: "en-US",
		},
		AI: AISettings{
			Model: "gemini-1.5-flash",
		},
		Remote: RemoteSettings{
			PollIntervalSeconds: 60,
		},
		Sync: SyncSettings{
			DebounceMS:        750,
			IntervalSeconds:   300,
			MaxParallelPushes: 4,
		},
		Recommendations: RecommendationSettings{
			Target:      5,
			MaxRounds:   3,
			OverRequest: 3,
		},
		Credits: CreditSettings{
			SignupGrant: 3,
		},
		Log: LogConfig{
			MaxSize:    10,
			MaxAge:     14,
			MaxBackups: 3,
		},
	}
}

// Manager loads and saves settings.json.
type Manager struct {
	path string
}

// NewManager creates a settings manager for the provided path.
func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir creates the directory holding the settings file.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing. Missing
// sections fall back to their defaults so older config files keep working.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	dec := json.NewDecoder(f)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, err
	}

	if strings.TrimSpace(s.Storage.Directory) == "" {
		s.Storage.Directory = "cache"
	}
	if strings.TrimSpace(s.Storage.DatabasePath) == "" {
		s.Storage.DatabasePath = filepath.Join(s.Storage.Directory, "reelay.db")
	}
	if s.Sync.MaxParallelPushes < 1 {
		s.Sync.MaxParallelPushes = 1
	}
	if s.Recommendations.Target < 1 {
		s.Recommendations.Target = 5
	}
	if s.Recommendations.MaxRounds < 1 {
		s.Recommendations.MaxRounds = 3
	}
	if s.Recommendations.OverRequest < 0 {
		s.Recommendations.OverRequest = 0
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// Package prefs stores small UI preferences that never leave the device:
// theme selection and whether onboarding has been completed.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var ErrInvalidTheme = errors.New("theme must be one of: system, light, dark")

const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Preferences is the persisted shape.
type Preferences struct {
	Theme               string `json:"theme"`
	OnboardingCompleted bool   `json:"onboardingCompleted"`
}

func defaultPreferences() Preferences {
	return Preferences{Theme: ThemeSystem}
}

// Service persists device-local preferences as a single JSON file.
type Service struct {
	fs   afero.Fs
	path string

	mu    sync.RWMutex
	prefs Preferences
}

// NewService creates a prefs service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	return NewServiceWithFs(afero.NewOsFs(), storageDir)
}

// NewServiceWithFs is NewService over an explicit filesystem. Tests use an
// in-memory one.
func NewServiceWithFs(fs afero.Fs, storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, errors.New("storage directory not provided")
	}

	if err := fs.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}

	svc := &Service{
		fs:    fs,
		path:  filepath.Join(storageDir, "prefs.json"),
		prefs: defaultPreferences(),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	return svc, nil
}

// Get returns the current preferences.
func (s *Service) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetTheme updates the theme preference.
func (s *Service) SetTheme(theme string) (Preferences, error) {
	theme = strings.ToLower(strings.TrimSpace(theme))
	switch theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		return Preferences{}, ErrInvalidTheme
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.Theme = theme
	if err := s.saveLocked(); err != nil {
		return Preferences{}, err
	}
	return s.prefs, nil
}

// CompleteOnboarding marks onboarding as done. Idempotent.
func (s *Service) CompleteOnboarding() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefs.OnboardingCompleted {
		return s.prefs, nil
	}

	s.prefs.OnboardingCompleted = true
	if err := s.saveLocked(); err != nil {
		return Preferences{}, err
	}
	return s.prefs, nil
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read prefs file: %w", err)
	}

	var stored Preferences
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode prefs: %w", err)
	}

	switch stored.Theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		stored.Theme = ThemeSystem
	}
	s.prefs = stored

	return nil
}

func (s *Service) saveLocked() error {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write prefs temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace prefs file: %w", err)
	}

	return nil
}

// Package session manages the local profiles and which one is signed in.
// The signed-in profile's ID is the user ID every remote call is scoped by.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"reelay/models"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrNameRequired       = errors.New("name is required")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrPinRequired        = errors.New("PIN is required")
	ErrPinInvalid         = errors.New("invalid PIN")
	ErrPinTooShort        = errors.New("PIN must be at least 4 characters")
)

type storedState struct {
	Profiles []models.Profile `json:"profiles"`
	ActiveID string           `json:"activeId,omitempty"`
}

// Service manages profile persistence and the active session. The active
// profile survives restarts so the app comes back signed in.
type Service struct {
	mu       sync.RWMutex
	path     string
	profiles map[string]models.Profile
	activeID string

	onSignIn func(userID string)
}

// NewService creates a session service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}

	svc := &Service{
		path:     filepath.Join(storageDir, "profiles.json"),
		profiles: make(map[string]models.Profile),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	if err := svc.ensureDefaultProfile(); err != nil {
		return nil, err
	}

	return svc, nil
}

// SetSignInHook registers a callback fired after a successful sign-in, with
// the lock released. Used to kick off the initial remote merge.
func (s *Service) SetSignInHook(fn func(userID string)) {
	s.mu.Lock()
	s.onSignIn = fn
	s.mu.Unlock()
}

// CurrentUserID returns the signed-in profile's ID, or "" when signed out.
func (s *Service) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Current returns the signed-in profile.
func (s *Service) Current() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[s.activeID]
	return p, ok
}

// List returns all profiles sorted by creation time, then name.
func (s *Service) List() []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].Name < profiles[j].Name
		}
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})

	return profiles
}

// Get returns the profile with the given ID if present.
func (s *Service) Get(id string) (models.Profile, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Profile{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	return p, ok
}

// Create registers a new profile with the provided name.
func (s *Service) Create(name string) (models.Profile, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.Profile{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked(trimmed)
}

// Rename updates the profile's name.
func (s *Service) Rename(id, name string) (models.Profile, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.Profile{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[strings.TrimSpace(id)]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}

	p.Name = trimmed
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.ID] = p

	if err := s.saveLocked(); err != nil {
		return models.Profile{}, err
	}

	return p, nil
}

// SetPin sets or updates the profile's PIN.
func (s *Service) SetPin(id, pin string) (models.Profile, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return models.Profile{}, ErrPinRequired
	}
	if len(pin) < 4 {
		return models.Profile{}, ErrPinTooShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[strings.TrimSpace(id)]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return models.Profile{}, fmt.Errorf("hash PIN: %w", err)
	}

	p.PinHash = string(hash)
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.ID] = p

	if err := s.saveLocked(); err != nil {
		return models.Profile{}, err
	}

	return p, nil
}

// ClearPin removes the profile's PIN.
func (s *Service) ClearPin(id string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[strings.TrimSpace(id)]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}

	p.PinHash = ""
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.ID] = p

	if err := s.saveLocked(); err != nil {
		return models.Profile{}, err
	}

	return p, nil
}

// SignIn activates the profile, verifying the PIN when one is set. A profile
// without a PIN accepts any value, including empty.
func (s *Service) SignIn(id, pin string) (models.Profile, error) {
	s.mu.Lock()

	p, ok := s.profiles[strings.TrimSpace(id)]
	if !ok {
		s.mu.Unlock()
		return models.Profile{}, ErrProfileNotFound
	}

	if p.PinHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(p.PinHash), []byte(pin)); err != nil {
			s.mu.Unlock()
			return models.Profile{}, ErrPinInvalid
		}
	}

	s.activeID = p.ID
	hook := s.onSignIn
	if err := s.saveLocked(); err != nil {
		s.mu.Unlock()
		return models.Profile{}, err
	}
	s.mu.Unlock()

	if hook != nil {
		hook(p.ID)
	}

	return p, nil
}

// SignOut clears the active session. No-op when already signed out.
func (s *Service) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return nil
	}

	s.activeID = ""
	return s.saveLocked()
}

// Delete removes a profile by ID. The last remaining profile cannot be
// deleted; deleting the active profile signs it out first.
func (s *Service) Delete(id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return ErrProfileNotFound
	}

	if len(s.profiles) <= 1 {
		return fmt.Errorf("cannot delete the last profile")
	}

	delete(s.profiles, id)
	if s.activeID == id {
		s.activeID = ""
	}

	return s.saveLocked()
}

func (s *Service) ensureDefaultProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.profiles) > 0 {
		return nil
	}

	_, err := s.createLocked(models.DefaultProfileName)
	return err
}

func (s *Service) createLocked(name string) (models.Profile, error) {
	id := uuid.NewString()

	if len(s.profiles) == 0 {
		id = models.DefaultProfileID
	} else if _, exists := s.profiles[id]; exists {
		return models.Profile{}, fmt.Errorf("generated duplicate profile id")
	}

	now := time.Now().UTC()
	p := models.Profile{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.profiles[p.ID] = p

	if err := s.saveLocked(); err != nil {
		return models.Profile{}, err
	}

	return p, nil
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open profiles file: %w", err)
	}
	defer file.Close()

	var state storedState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return fmt.Errorf("decode profiles: %w", err)
	}

	s.profiles = make(map[string]models.Profile, len(state.Profiles))
	for _, p := range state.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		s.profiles[p.ID] = p
	}

	if _, ok := s.profiles[state.ActiveID]; ok {
		s.activeID = state.ActiveID
	}

	return nil
}

func (s *Service) saveLocked() error {
	profiles := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].Name < profiles[j].Name
		}
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})

	state := storedState{Profiles: profiles, ActiveID: s.activeID}

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create profiles temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode profiles: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync profiles: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close profiles temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profiles file: %w", err)
	}

	return nil
}

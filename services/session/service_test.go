package session_test

import (
	"errors"
	"testing"

	"reelay/models"
	"reelay/services/session"
)

func TestServiceInitialisesDefaultProfile(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	list := svc.List()
	if len(list) != 1 {
		t.Fatalf("expected exactly one profile, got %d", len(list))
	}
	if list[0].ID != models.DefaultProfileID {
		t.Fatalf("expected default profile id %q, got %q", models.DefaultProfileID, list[0].ID)
	}
	if list[0].Name != models.DefaultProfileName {
		t.Fatalf("expected default profile name %q, got %q", models.DefaultProfileName, list[0].Name)
	}

	if got := svc.CurrentUserID(); got != "" {
		t.Fatalf("expected signed out on first boot, got user %q", got)
	}
}

func TestSignInWithoutPin(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	p, err := svc.SignIn(models.DefaultProfileID, "")
	if err != nil {
		t.Fatalf("sign in returned error: %v", err)
	}

	if got := svc.CurrentUserID(); got != p.ID {
		t.Fatalf("expected current user %q, got %q", p.ID, got)
	}
}

func TestSignInVerifiesPin(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := svc.SetPin(models.DefaultProfileID, "4321"); err != nil {
		t.Fatalf("set pin returned error: %v", err)
	}

	if _, err := svc.SignIn(models.DefaultProfileID, "1111"); !errors.Is(err, session.ErrPinInvalid) {
		t.Fatalf("expected ErrPinInvalid, got %v", err)
	}
	if got := svc.CurrentUserID(); got != "" {
		t.Fatalf("expected no session after failed sign in, got %q", got)
	}

	if _, err := svc.SignIn(models.DefaultProfileID, "4321"); err != nil {
		t.Fatalf("sign in with correct pin returned error: %v", err)
	}
}

func TestPinMustBeFourCharacters(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := svc.SetPin(models.DefaultProfileID, "12"); !errors.Is(err, session.ErrPinTooShort) {
		t.Fatalf("expected ErrPinTooShort, got %v", err)
	}
	if _, err := svc.SetPin(models.DefaultProfileID, ""); !errors.Is(err, session.ErrPinRequired) {
		t.Fatalf("expected ErrPinRequired, got %v", err)
	}
}

func TestSignOutClearsSession(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := svc.SignIn(models.DefaultProfileID, ""); err != nil {
		t.Fatalf("sign in returned error: %v", err)
	}
	if err := svc.SignOut(); err != nil {
		t.Fatalf("sign out returned error: %v", err)
	}
	if got := svc.CurrentUserID(); got != "" {
		t.Fatalf("expected signed out, got %q", got)
	}

	// Signing out twice is harmless.
	if err := svc.SignOut(); err != nil {
		t.Fatalf("second sign out returned error: %v", err)
	}
}

func TestSignInHookFires(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	var hooked string
	svc.SetSignInHook(func(userID string) { hooked = userID })

	if _, err := svc.SignIn(models.DefaultProfileID, ""); err != nil {
		t.Fatalf("sign in returned error: %v", err)
	}
	if hooked != models.DefaultProfileID {
		t.Fatalf("expected hook fired with %q, got %q", models.DefaultProfileID, hooked)
	}
}

func TestActiveSessionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	svc, err := session.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if _, err := svc.SignIn(models.DefaultProfileID, ""); err != nil {
		t.Fatalf("sign in returned error: %v", err)
	}

	reopened, err := session.NewService(dir)
	if err != nil {
		t.Fatalf("failed to reopen service: %v", err)
	}
	if got := reopened.CurrentUserID(); got != models.DefaultProfileID {
		t.Fatalf("expected session restored after restart, got %q", got)
	}
}

func TestDeleteActiveProfileSignsOut(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	second, err := svc.Create("Movie Night")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}
	if _, err := svc.SignIn(second.ID, ""); err != nil {
		t.Fatalf("sign in returned error: %v", err)
	}

	if err := svc.Delete(second.ID); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	if got := svc.CurrentUserID(); got != "" {
		t.Fatalf("expected signed out after deleting active profile, got %q", got)
	}
}

func TestDeleteLastProfileFails(t *testing.T) {
	svc, err := session.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if err := svc.Delete(models.DefaultProfileID); err == nil {
		t.Fatal("expected delete to fail for last remaining profile")
	}
}

package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dashcrypt/cryptgen/internal/conf"
)

func press(t *testing.T, m Model, k tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func TestFocusWraps(t *testing.T) {
	m := InitialModel("", conf.Profile{})
	m, _ = press(t, m, tea.KeyShiftTab)
	if m.focused != KeyStoreURL {
		t.Fatalf("focused %d after wrapping back, want %d", m.focused, KeyStoreURL)
	}
	m, _ = press(t, m, tea.KeyTab)
	if m.focused != ProfileName {
		t.Fatalf("focused %d after wrapping forward", m.focused)
	}
	if !m.Inputs[ProfileName].Focused() || m.Inputs[KeyStoreURL].Focused() {
		t.Fatal("focus not moved")
	}
}

func TestEscQuits(t *testing.T) {
	m, cmd := press(t, InitialModel("", conf.Profile{}), tea.KeyEsc)
	if !m.Quit || cmd == nil {
		t.Fatal("esc should quit without saving")
	}
}

func TestProfile(t *testing.T) {
	base := conf.Profile{Merchant: "acme", JWTSecret: "kept", ClientSecret: "s3cret"}
	m := InitialModel("staging", base)
	m.Inputs[Merchant].SetValue(" acme-staging ")
	m.Inputs[WidevineProvider].SetValue("widevine_test")

	name, p := m.Profile(base)
	if name != "staging" {
		t.Fatalf("name %q", name)
	}
	if p.Merchant != "acme-staging" || p.WidevineProvider != "widevine_test" {
		t.Fatalf("profile %+v", p)
	}
	if p.JWTSecret != "kept" || p.ClientSecret != "s3cret" {
		t.Fatalf("untouched fields lost: %+v", p)
	}

	m.Inputs[ProfileName].SetValue("")
	if name, _ := m.Profile(base); name != conf.DefaultProfile {
		t.Fatalf("empty name gave %q", name)
	}

	if view := m.View(); !strings.Contains(view, "Key Store URL") || strings.Contains(view, "s3cret") {
		t.Fatalf("view:\n%s", view)
	}
}

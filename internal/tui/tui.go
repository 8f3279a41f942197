package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dashcrypt/cryptgen/internal/conf"
)

const (
	ProfileName = iota
	WidevineURL
	WidevineProvider
	DRMTodayURL
	Merchant
	OidcDiscoveryEndpoint
	ClientID
	ClientSecret
	KeyStoreURL
)

type (
	errMsg error
)

const (
	hotPink  = lipgloss.Color("#FF06B7")
	darkGray = lipgloss.Color("#767676")
)

var (
	inputStyle    = lipgloss.NewStyle().Foreground(hotPink)
	continueStyle = lipgloss.NewStyle().Foreground(darkGray)
)

type field struct {
	label string
	width int
}

var fields = []field{
	ProfileName:           {"Profile Name", 20},
	WidevineURL:           {"Widevine URL", 100},
	WidevineProvider:      {"Widevine Provider", 30},
	DRMTodayURL:           {"DRMToday URL", 100},
	Merchant:              {"Merchant", 30},
	OidcDiscoveryEndpoint: {"OIDC Endpoint", 100},
	ClientID:              {"Client ID", 30},
	ClientSecret:          {"Client Secret", 40},
	KeyStoreURL:           {"Key Store URL", 100},
}

type Model struct {
	Inputs  []textinput.Model
	focused int
	err     error
	Quit    bool
}

// InitialModel prefills the form from an existing profile.
func InitialModel(name string, p conf.Profile) Model {
	inputs := make([]textinput.Model, len(fields))
	for i, f := range fields {
		inputs[i] = textinput.New()
		inputs[i].Placeholder = f.label
		inputs[i].CharLimit = 256
		inputs[i].Width = f.width
	}
	inputs[ClientSecret].EchoMode = textinput.EchoPassword
	inputs[ProfileName].Focus()

	inputs[ProfileName].SetValue(name)
	inputs[WidevineURL].SetValue(p.WidevineURL)
	inputs[WidevineProvider].SetValue(p.WidevineProvider)
	inputs[DRMTodayURL].SetValue(p.DRMTodayURL)
	inputs[Merchant].SetValue(p.Merchant)
	inputs[OidcDiscoveryEndpoint].SetValue(p.OidcDiscoveryEndpoint)
	inputs[ClientID].SetValue(p.ClientID)
	inputs[ClientSecret].SetValue(p.ClientSecret)
	inputs[KeyStoreURL].SetValue(p.KeyStoreURL)

	return Model{
		Inputs: inputs,
	}
}

// Profile returns the profile name and the values entered. Fields of base
// that the form does not cover are kept.
func (m Model) Profile(base conf.Profile) (string, conf.Profile) {
	value := func(i int) string { return strings.TrimSpace(m.Inputs[i].Value()) }
	p := base
	p.WidevineURL = value(WidevineURL)
	p.WidevineProvider = value(WidevineProvider)
	p.DRMTodayURL = value(DRMTodayURL)
	p.Merchant = value(Merchant)
	p.OidcDiscoveryEndpoint = value(OidcDiscoveryEndpoint)
	p.ClientID = value(ClientID)
	p.ClientSecret = value(ClientSecret)
	p.KeyStoreURL = value(KeyStoreURL)
	name := value(ProfileName)
	if name == "" {
		name = conf.DefaultProfile
	}
	return name, p
}

func (m Model) Init() tea.Cmd {
	// Just return `nil`, which means "no I/O right now, please."
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd = make([]tea.Cmd, len(m.Inputs))
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if m.focused == len(m.Inputs)-1 {
				return m, tea.Quit
			}
			m.nextInput()
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quit = true
			return m, tea.Quit
		case tea.KeyShiftTab, tea.KeyCtrlP:
			m.prevInput()
		case tea.KeyTab, tea.KeyCtrlN:
			m.nextInput()
		}
		for i := range m.Inputs {
			m.Inputs[i].Blur()
		}
		m.Inputs[m.focused].Focus()

	// We handle errors just like any other message
	case errMsg:
		m.err = msg
		return m, nil
	}

	for i := range m.Inputs {
		m.Inputs[i], cmds[i] = m.Inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString("\n")
	for i, f := range fields {
		fmt.Fprintf(&b, " %s  %s\n", inputStyle.Width(24).Render(f.label), m.Inputs[i].View())
	}
	fmt.Fprintf(&b, "\n %s\n", continueStyle.Render("Submit ->"))
	return b.String() + "\n"
}

// nextInput focuses the next input field
func (m *Model) nextInput() {
	m.focused = (m.focused + 1) % len(m.Inputs)
}

// prevInput focuses the previous input field
func (m *Model) prevInput() {
	m.focused--
	// Wrap around
	if m.focused < 0 {
		m.focused = len(m.Inputs) - 1
	}
}

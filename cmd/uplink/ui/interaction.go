package ui

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

const (
	envNoInteraction = "NO_INTERACTION"
	envCI            = "CI"
	envTerm          = "TERM"
)

var interactionState struct {
	mu          sync.RWMutex
	initialized bool
	interactive bool
}

// ConfigureInteraction decides whether spinners and colors are used.
// Explicit opt-out wins; otherwise CI, a dumb terminal, or a non-tty
// stderr all disable interaction.
func ConfigureInteraction(noInteraction bool) {
	interactive := detectInteractive(noInteraction)

	interactionState.mu.Lock()
	interactionState.initialized = true
	interactionState.interactive = interactive
	interactionState.mu.Unlock()

	if interactive {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// IsInteractive reports whether animated output is appropriate.
func IsInteractive() bool {
	interactionState.mu.RLock()
	if interactionState.initialized {
		v := interactionState.interactive
		interactionState.mu.RUnlock()
		return v
	}
	interactionState.mu.RUnlock()

	ConfigureInteraction(false)
	return IsInteractive()
}

func detectInteractive(noInteraction bool) bool {
	if noInteraction {
		return false
	}
	if os.Getenv(envNoInteraction) != "" || os.Getenv(envCI) != "" {
		return false
	}
	if strings.EqualFold(os.Getenv(envTerm), "dumb") {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}

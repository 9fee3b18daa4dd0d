// Package tui provides the interactive operator prompts.
package tui

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/omas-app/omas-vendor-go/internal/names"
)

var (
	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)

	uriStyle = lipgloss.NewStyle().Underline(true)
)

// ShowDeviceCode renders the device-authorization instructions for the
// operator to complete sign-in in a browser.
func ShowDeviceCode(verificationURI, userCode string) {
	fmt.Fprintf(os.Stderr, "\nGo to: %s\nEnter the code:\n%s\n\n",
		uriStyle.Render(verificationURI),
		codeStyle.Render(userCode))
}

// ConfirmOrder asks whether to accept the named order, defaulting to
// decline when the operator does not answer within timeout.
func ConfirmOrder(name string, timeout time.Duration) (bool, error) {
	var accept bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Accept order %s?", names.OrderLabel(name))).
			Description(fmt.Sprintf("Declines automatically in %s.", timeout)).
			Affirmative("Accept").
			Negative("Decline").
			Value(&accept),
	)).WithTimeout(timeout)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrTimeout) || errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return accept, nil
}

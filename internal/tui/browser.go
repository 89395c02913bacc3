package tui

import "github.com/leok974/ApplyLens-sub016/internal/browser"

// openBrowser opens the specified URL in the user's default browser.
func openBrowser(url string) error {
	return browser.OpenURL(url)
}

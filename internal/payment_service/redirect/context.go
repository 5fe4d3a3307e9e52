// Package redirect renders the payment return page and decides whether a browser
// should be handed back to the native app.
package redirect

import (
	"net/url"
	"strings"

	"github.com/mssola/useragent"
)

// ClientContext is where the return page is being rendered.
type ClientContext string

const (
	ContextNativeShell   ClientContext = "native_shell"
	ContextMobileBrowser ClientContext = "mobile_browser"
	ContextDesktop       ClientContext = "desktop"
)

// nativeShellUAToken is appended to the user agent by the app's webview.
const nativeShellUAToken = "PartsMarketApp/"

// DetectContext classifies the caller. The native shell identifies itself through its
// user agent token or a client=app query parameter; otherwise mobile user agents are
// mobile browsers and everything else is desktop.
func DetectContext(userAgent string, query url.Values) ClientContext {
	if strings.Contains(userAgent, nativeShellUAToken) || query.Get("client") == "app" {
		return ContextNativeShell
	}
	if userAgent == "" {
		return ContextDesktop
	}
	if useragent.New(userAgent).Mobile() {
		return ContextMobileBrowser
	}
	return ContextDesktop
}

// ShouldHandoff reports whether the page should try to reopen the native app.
func (c ClientContext) ShouldHandoff() bool {
	return c == ContextMobileBrowser
}

package violation

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	// Ctrl/Cmd+Shift+<letter>: inspector, console, element picker.
	devToolsShortcuts = mapset.NewSet("i", "j", "c")
	// Ctrl/Cmd+<letter>: view source.
	sourceShortcuts = mapset.NewSet("u")
)

// forbiddenKey reports whether k opens developer tooling.
func forbiddenKey(k KeyEvent) bool {
	if k.Key == "F12" {
		return true
	}
	if !k.Ctrl && !k.Meta {
		return false
	}
	letter := strings.ToLower(k.Key)
	if k.Shift && devToolsShortcuts.Contains(letter) {
		return true
	}
	return sourceShortcuts.Contains(letter)
}

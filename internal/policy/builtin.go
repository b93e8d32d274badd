// Package policy decides whether a foreground app may run during a session.
// It owns the in-memory whitelist snapshot and the built-in rule sets
// (always-allowed system packages, emergency dialers).
package policy

import "strings"

// DefaultSelfPackage is the kiosk's own identifier.
const DefaultSelfPackage = "kioskd"

// SystemPackages are always allowed: the status bar / system UI, the OS shell
// and settings. Both Android identifiers and the X11 desktop shells are listed
// so the same engine runs on either host.
var SystemPackages = []string{
	"com.android.systemui",
	"android",
	"com.android.settings",
	"gnome-shell",
	"plasmashell",
	"Xorg",
	"Xwayland",
}

// settingsPrefix matches settings sub-packages (e.g. com.android.settings.intelligence).
const settingsPrefix = "com.android.settings"

// EmergencyPackages are dialer/phone identifiers that are never blocked.
var EmergencyPackages = []string{
	"com.android.dialer",
	"com.android.phone",
	"com.google.android.dialer",
	"com.samsung.android.dialer",
	"com.samsung.android.incallui",
	"com.android.incallui",
	"com.android.server.telecom",
}

// DialerPackages are added to the allowed snapshot when auto-whitelist-dialer is on.
var DialerPackages = []string{
	"com.android.dialer",
	"com.google.android.dialer",
	"com.samsung.android.dialer",
}

// emergencyKeywords is the case-insensitive substring heuristic for phone apps.
var emergencyKeywords = []string{"dialer", "phone", "call"}

// IsSystemPackage reports whether pkg is the kiosk itself or an OS shell/settings package.
// The monitor consults this before the cache so it can never block itself.
func IsSystemPackage(pkg, self string, extra ...string) bool {
	if pkg == "" {
		return false
	}
	if pkg == self || strings.HasPrefix(pkg, settingsPrefix) {
		return true
	}
	for _, p := range SystemPackages {
		if pkg == p {
			return true
		}
	}
	for _, p := range extra {
		if pkg == p {
			return true
		}
	}
	return false
}

// matchesEmergencyKeyword applies the substring heuristic.
func matchesEmergencyKeyword(pkg string) bool {
	lower := strings.ToLower(pkg)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func toSet(groups ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, g := range groups {
		for _, s := range g {
			if s != "" {
				set[s] = struct{}{}
			}
		}
	}
	return set
}

package infra

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DesktopEntryLabeler resolves process names to application names using the
// freedesktop .desktop entries under each data dir's applications/ folder.
// A package matches an entry by file name, StartupWMClass or Exec binary.
type DesktopEntryLabeler struct {
	dirs []string

	mu     sync.Mutex
	labels map[string]string // nil until first lookup
}

// NewDesktopEntryLabeler creates a labeler over the XDG data dirs.
func NewDesktopEntryLabeler() *DesktopEntryLabeler {
	return NewDesktopEntryLabelerWithDirs(xdgApplicationDirs())
}

// NewDesktopEntryLabelerWithDirs creates a labeler over explicit applications dirs (for testing).
func NewDesktopEntryLabelerWithDirs(dirs []string) *DesktopEntryLabeler {
	return &DesktopEntryLabeler{dirs: dirs}
}

// AppLabel implements domain.AppLabeler.
func (l *DesktopEntryLabeler) AppLabel(ctx context.Context, pkg string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.labels == nil {
		l.labels = l.scan()
	}
	if label, ok := l.labels[strings.ToLower(pkg)]; ok {
		return label, nil
	}
	return "", fmt.Errorf("%w: label for %s", domain.ErrNotFound, pkg)
}

// Reset drops the index so the next lookup rescans.
func (l *DesktopEntryLabeler) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels = nil
}

// scan indexes every entry. Earlier dirs win, as in XDG lookup order.
func (l *DesktopEntryLabeler) scan() map[string]string {
	labels := make(map[string]string)
	for _, dir := range l.dirs {
		files, _ := filepath.Glob(filepath.Join(dir, "*.desktop"))
		for _, file := range files {
			entry, err := readDesktopEntry(file)
			if err != nil || entry.name == "" || entry.hidden {
				continue
			}
			for _, key := range entry.keys(file) {
				if _, seen := labels[key]; !seen {
					labels[key] = entry.name
				}
			}
		}
	}
	return labels
}

type desktopEntry struct {
	name     string
	wmClass  string
	execBase string
	hidden   bool
}

func (e desktopEntry) keys(file string) []string {
	keys := []string{strings.ToLower(strings.TrimSuffix(filepath.Base(file), ".desktop"))}
	if e.wmClass != "" {
		keys = append(keys, strings.ToLower(e.wmClass))
	}
	if e.execBase != "" {
		keys = append(keys, strings.ToLower(e.execBase))
	}
	return keys
}

// readDesktopEntry reads the [Desktop Entry] group. Localized keys are ignored.
func readDesktopEntry(path string) (desktopEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return desktopEntry{}, err
	}
	defer f.Close()

	var e desktopEntry
	inGroup := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inGroup = line == "[Desktop Entry]"
			continue
		}
		if !inGroup {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			e.name = value
		case "StartupWMClass":
			e.wmClass = value
		case "Exec":
			if fields := strings.Fields(value); len(fields) > 0 {
				e.execBase = filepath.Base(fields[0])
			}
		case "Hidden":
			e.hidden = value == "true"
		}
	}
	return e, sc.Err()
}

func xdgApplicationDirs() []string {
	var dirs []string
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		dirs = append(dirs, filepath.Join(dataHome, "applications"))
	}
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range filepath.SplitList(dataDirs) {
		if d != "" {
			dirs = append(dirs, filepath.Join(d, "applications"))
		}
	}
	return dirs
}

var _ domain.AppLabeler = (*DesktopEntryLabeler)(nil)

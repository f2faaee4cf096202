package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// LoadDir reads every *.json file under dir as a SiteProfile. Files that fail
// to parse or validate are logged and skipped: one broken profile must not
// take down the run. Returns an error only when the directory itself cannot
// be read or no profile loads at all.
func LoadDir(dir string, logger *slog.Logger) ([]*SiteProfile, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("profile: read dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var profiles []*SiteProfile
	for _, name := range names {
		path := filepath.Join(dir, name)
		p, err := LoadFile(path)
		if err != nil {
			logger.Error("profile: skipping", "file", name, "error", err)
			continue
		}
		profiles = append(profiles, p)
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("profile: no usable profiles in %s", dir)
	}
	return profiles, nil
}

// LoadFile reads and validates a single profile.
func LoadFile(path string) (*SiteProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read: %w", err)
	}
	var p SiteProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", filepath.Base(path), err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseSelection expands a selection string like "1,3-5,7" into 1-based
// indexes clamped to [1, max]. An empty string selects everything.
func ParseSelection(s string, max int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		all := make([]int, max)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}

	seen := map[int]bool{}
	var out []int
	add := func(n int) {
		if n >= 1 && n <= max && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(strings.TrimSpace(lo))
			b, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || a > b {
				return nil, fmt.Errorf("profile: bad range %q", part)
			}
			for n := a; n <= b; n++ {
				add(n)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("profile: bad index %q", part)
		}
		add(n)
	}
	sort.Ints(out)
	return out, nil
}

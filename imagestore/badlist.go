package imagestore

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// BadList is the set of image URLs known to fail download or decode,
// persisted one URL per line. A product whose first image is on the list is
// flagged for attention and skipped; learning the list once saves every
// later pass the doomed fetches.
type BadList struct {
	mu   sync.Mutex
	path string
	urls map[string]bool
}

// LoadBadList reads the flat file; a missing file starts an empty list.
func LoadBadList(path string) (*BadList, error) {
	b := &BadList{path: path, urls: map[string]bool{}}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("imagestore: open bad list: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		u := strings.TrimSpace(sc.Text())
		if u != "" {
			b.urls[u] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("imagestore: read bad list: %w", err)
	}
	return b, nil
}

// Contains reports whether url is known bad.
func (b *BadList) Contains(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.urls[url]
}

// Add records url as bad and appends it to the file. Persistence failures
// are returned but the in-memory set is updated regardless.
func (b *BadList) Add(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.urls[url] {
		return nil
	}
	b.urls[url] = true
	if b.path == "" {
		return nil
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("imagestore: append bad list: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, url); err != nil {
		return fmt.Errorf("imagestore: append bad list: %w", err)
	}
	return nil
}

// Len reports the number of known-bad URLs.
func (b *BadList) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.urls)
}

// Package tracks picks the next vocal or ambient track from a directory
package tracks

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNoTracks is returned when a directory holds no playable tracks
var ErrNoTracks = errors.New("no tracks found")

// Order is the track selection order
type Order string

const (
	Random     Order = "random"
	Sequential Order = "sequential"
)

// ParseOrder accepts random or sequential
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(s)) {
	case Random:
		return Random, nil
	case Sequential:
		return Sequential, nil
	default:
		return "", fmt.Errorf("unknown track order %q", s)
	}
}

// Library lists the .wav files of one directory. The directory is re-read
// on every Next so tracks can be added while running.
type Library struct {
	dir   string
	order Order

	mu   sync.Mutex
	rng  *rand.Rand
	last string
	next int
}

// NewLibrary creates a library over dir
func NewLibrary(dir string, order Order) *Library {
	return &Library{
		dir:   dir,
		order: order,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSeed makes random selection reproducible
func (l *Library) WithSeed(seed uint64) *Library {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rng = rand.New(rand.NewPCG(seed, seed))
	return l
}

// Dir returns the library directory
func (l *Library) Dir() string {
	return l.dir
}

// Order returns the selection order
func (l *Library) Order() Order {
	return l.order
}

// List returns the track paths in name order
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read track dir %s: %w", l.dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		paths = append(paths, filepath.Join(l.dir, e.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", l.dir, ErrNoTracks)
	}
	return paths, nil
}

// Next returns the path of the next track. Random order never repeats the
// previous track when there is a choice.
func (l *Library) Next() (string, error) {
	paths, err := l.List()
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var pick string
	switch {
	case l.order == Sequential:
		pick = paths[l.next%len(paths)]
		l.next = (l.next + 1) % len(paths)
	case len(paths) == 1:
		pick = paths[0]
	default:
		for {
			pick = paths[l.rng.IntN(len(paths))]
			if pick != l.last {
				break
			}
		}
	}

	l.last = pick
	return pick, nil
}

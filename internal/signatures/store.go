// Package signatures persists the golden output signatures a committed
// pipeline is verified against.
package signatures

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
)

// Key identifies one verified pipeline configuration.
type Key struct {
	Protocol     display.Protocol
	Raster       display.Raster
	Link         link.Configuration
	DynamicRange display.DynamicRangeMode
}

func (k Key) String() string {
	linkPart := "assessed-max"
	if !k.Link.IsAssessedMax() {
		linkPart = fmt.Sprintf("%sx%d", k.Link.Rate, k.Link.Lanes)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.Protocol, k.Raster, linkPart, k.DynamicRange)
}

type file struct {
	Signatures map[string]string `toml:"signatures"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]display.Signature
}

// Load reads the store at path. A missing file is an empty store.
func Load(path string) (*Store, error) {
	store := &Store{path: path, entries: map[string]display.Signature{}}

	// nolint:gosec
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithField("path", path).Debug("Signature store does not exist yet")
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cant read signature store %s: %w", path, err)
	}

	var decoded file
	if _, err := toml.Decode(string(content), &decoded); err != nil {
		return nil, fmt.Errorf("cant decode signature store %s: %w", path, err)
	}
	for key, value := range decoded.Signatures {
		store.entries[key] = display.Signature(value)
	}
	logrus.WithFields(logrus.Fields{"path": path, "entries": len(store.entries)}).Debug("Signature store loaded")
	return store, nil
}

func (s *Store) Path() string {
	return s.path
}

// Lookup returns nil when no golden signature exists for key.
func (s *Store) Lookup(key Key) *display.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	signature, ok := s.entries[key.String()]
	if !ok {
		return nil
	}
	return &signature
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Store records signature for key and writes the whole store to disk.
func (s *Store) Store(key Key, signature display.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = signature

	encoded := file{Signatures: make(map[string]string, len(s.entries))}
	for k, v := range s.entries {
		encoded.Signatures[k] = string(v)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(encoded); err != nil {
		return fmt.Errorf("cant encode signature store: %w", err)
	}
	if err := utils.WriteAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("cant write signature store: %w", err)
	}
	return nil
}

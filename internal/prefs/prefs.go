// Package prefs persists the few user choices that outlive a session: the
// provider URL and whether the engine starts with the launcher.
//
// Writes are best-effort. Callers log failures and carry on.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fyne.io/fyne/v2"
	"github.com/muhammadmuzzammil1998/jsonc"
)

// Preference keys shared by every Store.
const (
	KeyVPNURL         = "vpnUrl"
	KeyProxyAutoStart = "proxyAutoStart"
)

// Store is the persistence side channel used by the coordinator.
type Store interface {
	VPNURL() (string, error)
	SetVPNURL(url string) error
	ProxyAutoStart() (bool, error)
	SetProxyAutoStart(enabled bool) error
}

// FyneStore keeps preferences in the fyne application's preference storage.
type FyneStore struct {
	p fyne.Preferences
}

// NewFyneStore wraps app preferences, usually fyne.CurrentApp().Preferences().
func NewFyneStore(p fyne.Preferences) *FyneStore {
	return &FyneStore{p: p}
}

func (s *FyneStore) VPNURL() (string, error) {
	return s.p.String(KeyVPNURL), nil
}

func (s *FyneStore) SetVPNURL(url string) error {
	s.p.SetString(KeyVPNURL, url)
	return nil
}

func (s *FyneStore) ProxyAutoStart() (bool, error) {
	return s.p.Bool(KeyProxyAutoStart), nil
}

func (s *FyneStore) SetProxyAutoStart(enabled bool) error {
	s.p.SetBool(KeyProxyAutoStart, enabled)
	return nil
}

type fileData struct {
	VPNURL         string `json:"vpnUrl"`
	ProxyAutoStart bool   `json:"proxyAutoStart"`
}

// FileStore keeps preferences in a JSON file. Comments and trailing commas
// are accepted when reading, so the file can be edited by hand.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() (fileData, error) {
	var d fileData
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &d); err != nil {
		return d, fmt.Errorf("failed to parse preferences %s: %w", s.path, err)
	}
	return d, nil
}

func (s *FileStore) update(fn func(*fileData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.read()
	if err != nil {
		return err
	}
	fn(&d)
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	return nil
}

func (s *FileStore) VPNURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.read()
	return d.VPNURL, err
}

func (s *FileStore) SetVPNURL(url string) error {
	return s.update(func(d *fileData) { d.VPNURL = url })
}

func (s *FileStore) ProxyAutoStart() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.read()
	return d.ProxyAutoStart, err
}

func (s *FileStore) SetProxyAutoStart(enabled bool) error {
	return s.update(func(d *fileData) { d.ProxyAutoStart = enabled })
}

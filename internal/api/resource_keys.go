package api

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ResourceKeyManager remembers the resource keys of link-shared files.
// Drive requires the key alongside the ID for files shared before the
// 2021 security update.
type ResourceKeyManager struct {
	mu   sync.RWMutex
	keys map[string]resourceKeyEntry
	path string
}

type resourceKeyEntry struct {
	ResourceKey string `json:"resourceKey"`
	Timestamp   int64  `json:"timestamp"`
	Source      string `json:"source"` // url or api
}

func NewResourceKeyManager() *ResourceKeyManager {
	return &ResourceKeyManager{keys: make(map[string]resourceKeyEntry)}
}

// SetCachePath loads keys persisted at path and saves later changes there
func (m *ResourceKeyManager) SetCachePath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = path
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &m.keys)
}

// AddKey records a key. The cache file is only rewritten when the key is
// new or different, so listings full of known keys cost no writes.
func (m *ResourceKeyManager) AddKey(fileID, resourceKey, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.keys[fileID]; ok && existing.ResourceKey == resourceKey {
		return
	}
	m.keys[fileID] = resourceKeyEntry{
		ResourceKey: resourceKey,
		Timestamp:   time.Now().Unix(),
		Source:      source,
	}
	_ = m.persist()
}

func (m *ResourceKeyManager) GetKey(fileID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.keys[fileID]
	return entry.ResourceKey, ok
}

// BuildHeader renders the X-Goog-Drive-Resource-Keys value for the known
// keys among fileIDs
func (m *ResourceKeyManager) BuildHeader(fileIDs []string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pairs []string
	seen := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if entry, ok := m.keys[id]; ok {
			pairs = append(pairs, id+"/"+entry.ResourceKey)
		}
	}
	return strings.Join(pairs, ",")
}

// ParseFromURL extracts the file ID and resource key from a sharing link:
//
//	https://drive.google.com/file/d/FILE_ID/view?resourcekey=KEY
//	https://drive.google.com/open?id=FILE_ID&resourcekey=KEY
//	https://drive.google.com/drive/folders/FILE_ID
func (m *ResourceKeyManager) ParseFromURL(link string) (string, string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "https" || u.Host != "drive.google.com" {
		return "", "", false
	}

	query := u.Query()
	id := query.Get("id")
	if id == "" {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(segments); i++ {
			if segments[i] == "d" || segments[i] == "folders" {
				id = segments[i+1]
				break
			}
		}
	}
	if !validID(id) {
		return "", "", false
	}
	return id, query.Get("resourcekey"), true
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// UpdateFromAPIResponse records the key Drive returned with file metadata
func (m *ResourceKeyManager) UpdateFromAPIResponse(fileID, resourceKey string) {
	if resourceKey != "" {
		m.AddKey(fileID, resourceKey, "api")
	}
}

// persist writes the cache; callers hold mu
func (m *ResourceKeyManager) persist() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.keys, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0600)
}

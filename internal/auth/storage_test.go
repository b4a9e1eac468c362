package auth

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestFileStorage_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}

	data := []byte(`{"profile":"work","accessToken":"secret-token"}`)
	if err := storage.Save("work", data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "credentials", "work.enc"))
	if err != nil {
		t.Fatalf("credential file missing: %v", err)
	}
	if string(raw) == string(data) {
		t.Error("credentials written in plain text")
	}

	info, err := os.Stat(filepath.Join(dir, "credentials", "work.enc"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	loaded, err := storage.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != string(data) {
		t.Errorf("Load = %s, want %s", loaded, data)
	}

	if err := storage.Delete("work"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := storage.Load("work"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Load after delete = %v, want ErrNoCredentials", err)
	}
	if err := storage.Delete("work"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("second Delete = %v, want ErrNoCredentials", err)
	}
}

func TestFileStorage_KeyPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save("default", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	second, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := second.Load("default")
	if err != nil {
		t.Fatalf("Load with reopened storage failed: %v", err)
	}
	if string(loaded) != "payload" {
		t.Errorf("Load = %q, want payload", loaded)
	}
}

func TestFileStorage_RejectsTamperedData(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.Save("default", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "credentials", "default.enc")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := storage.Load("default"); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}

	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := storage.Load("default"); err == nil {
		t.Error("expected short ciphertext to fail")
	}
}

func TestKeyringStorage(t *testing.T) {
	keyring.MockInit()
	storage := NewKeyringStorage(serviceName)

	if storage.Name() != "system-keyring" {
		t.Errorf("Name = %q", storage.Name())
	}
	if _, err := storage.Load("missing"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Load missing = %v, want ErrNoCredentials", err)
	}
	if err := storage.Save("default", []byte("token")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := storage.Load("default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != "token" {
		t.Errorf("Load = %q, want token", loaded)
	}
	if err := storage.Delete("default"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := storage.Delete("default"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("second Delete = %v, want ErrNoCredentials", err)
	}
}

func TestListProfiles(t *testing.T) {
	tests := []struct {
		name string
		opts ManagerOptions
	}{
		{"keyring", ManagerOptions{}},
		{"file", ManagerOptions{ForceFileStorage: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyring.MockInit()
			mgr := NewManagerWithOptions(t.TempDir(), tt.opts)

			profiles, err := mgr.ListProfiles()
			if err != nil {
				t.Fatalf("ListProfiles failed: %v", err)
			}
			if len(profiles) != 0 {
				t.Errorf("expected no profiles, got %v", profiles)
			}

			for _, p := range []string{"work", "default", "work"} {
				if err := mgr.SaveCredentials(p, validCredentials()); err != nil {
					t.Fatalf("SaveCredentials(%s) failed: %v", p, err)
				}
			}

			profiles, err = mgr.ListProfiles()
			if err != nil {
				t.Fatal(err)
			}
			sort.Strings(profiles)
			if !reflect.DeepEqual(profiles, []string{"default", "work"}) {
				t.Errorf("profiles = %v", profiles)
			}

			if err := mgr.DeleteCredentials("work"); err != nil {
				t.Fatal(err)
			}
			profiles, err = mgr.ListProfiles()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(profiles, []string{"default"}) {
				t.Errorf("profiles after delete = %v", profiles)
			}
		})
	}
}

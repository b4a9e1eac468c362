package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/exclude"
	"github.com/dl-alexandre/gdmirror/internal/mirror/checkpoint"
	testutil "github.com/dl-alexandre/gdmirror/internal/testing"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

func exampleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"a.txt":     strings.Repeat("a", 10),
		"sub/b.txt": strings.Repeat("b", 30),
	})
	return root
}

func TestRun_Example(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	log := &eventLog{}

	result, err := New(remote, Options{Reporter: log}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(log.events) != 2 {
		t.Fatalf("got %d events, want 2", len(log.events))
	}
	if e := log.events[0]; e.Name != "a.txt" || e.Percent != 25 {
		t.Errorf("first event = %+v, want a.txt at 25%%", e)
	}
	if e := log.events[1]; e.Name != "b.txt" || e.Percent != 100 || e.RelativePath != "sub/b.txt" {
		t.Errorf("second event = %+v, want sub/b.txt at 100%%", e)
	}

	if got := remote.children("root"); !reflect.DeepEqual(got, []string{"Backup/"}) {
		t.Errorf("drive root = %v", got)
	}
	if got := remote.children(result.RootID); !reflect.DeepEqual(got, []string{"a.txt", "sub/"}) {
		t.Errorf("Backup contents = %v", got)
	}
	sub, _ := remote.FindFolder(context.Background(), result.RootID, "sub")
	if got := remote.children(sub.ID); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Errorf("sub contents = %v", got)
	}

	want := Result{RootID: result.RootID, RemoteName: "Backup", TotalBytes: 40, UploadedBytes: 40, Files: 2, Folders: 2}
	result.Duration = 0
	if *result != want {
		t.Errorf("result = %+v, want %+v", *result, want)
	}
}

func TestRun_OneFolderPerDirectory(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"top.txt":           "t",
		"a/1.txt":           "11",
		"a/b/2.txt":         "222",
		"a/b/c/3.txt":       "3333",
		"a/empty/":          "",
		"z/4.txt":           "44444",
		"z/nested/deep/5.x": "555555",
	})
	remote := newFakeRemote()
	log := &eventLog{}

	result, err := New(remote, Options{Reporter: log}, nil).Run(context.Background(), root, "Tree")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Tree, a, a/b, a/b/c, a/empty, z, z/nested, z/nested/deep
	if got := remote.folderCount(); got != 8 {
		t.Errorf("folders = %d, want 8", got)
	}
	if result.Folders != 8 || result.Files != 6 {
		t.Errorf("result counts = %d folders, %d files", result.Folders, result.Files)
	}

	ctx := context.Background()
	a, _ := remote.FindFolder(ctx, result.RootID, "a")
	b, _ := remote.FindFolder(ctx, a.ID, "b")
	c, _ := remote.FindFolder(ctx, b.ID, "c")
	if got := remote.children(a.ID); !reflect.DeepEqual(got, []string{"1.txt", "b/", "empty/"}) {
		t.Errorf("a = %v", got)
	}
	if got := remote.children(c.ID); !reflect.DeepEqual(got, []string{"3.txt"}) {
		t.Errorf("a/b/c = %v", got)
	}

	percents := log.percents()
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Errorf("percent decreased: %v", percents)
		}
	}
	if last := percents[len(percents)-1]; last != 100 {
		t.Errorf("last percent = %v, want 100", last)
	}
}

func TestRun_SortedOrder(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"c": "1", "a": "1", "b": "1"})
	log := &eventLog{}

	if _, err := New(newFakeRemote(), Options{Reporter: log}, nil).Run(context.Background(), root, "R"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var names []string
	for _, e := range log.events {
		names = append(names, e.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("upload order = %v", names)
	}
}

func TestRun_ReuseIsIdempotent(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	m := New(remote, Options{Policy: PolicyReuse}, nil)

	first, err := m.Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	foldersAfterFirst := remote.folderCount()

	log := &eventLog{}
	second, err := New(remote, Options{Policy: PolicyReuse, Reporter: log}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if second.RootID != first.RootID {
		t.Errorf("root changed: %s vs %s", second.RootID, first.RootID)
	}
	if remote.folderCount() != foldersAfterFirst {
		t.Errorf("folders = %d, want %d", remote.folderCount(), foldersAfterFirst)
	}
	if remote.uploads != 2 {
		t.Errorf("uploads = %d, want 2", remote.uploads)
	}
	if second.Skipped != 2 || second.Files != 0 {
		t.Errorf("second run: %d skipped, %d uploaded", second.Skipped, second.Files)
	}
	if p := log.percents(); p[len(p)-1] != 100 {
		t.Errorf("last percent = %v, want 100", p[len(p)-1])
	}
}

func TestRun_ReuseUploadsChangedFile(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()

	if _, err := New(remote, Options{Policy: PolicyReuse}, nil).Run(context.Background(), root, "Backup"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	testutil.WriteTree(t, root, map[string]string{"a.txt": strings.Repeat("A", 10)})

	result, err := New(remote, Options{Policy: PolicyReuse}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Files != 1 || result.Skipped != 1 {
		t.Errorf("second run: %d uploaded, %d skipped", result.Files, result.Skipped)
	}
}

func TestRun_CreatePolicyDuplicatesSubfolders(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	m := New(remote, Options{}, nil)

	first, err := m.Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := m.Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.RootID != second.RootID {
		t.Error("top-level folder should be reused under every policy")
	}
	if got := remote.children(first.RootID); !reflect.DeepEqual(got, []string{"a.txt", "a.txt", "sub/", "sub/"}) {
		t.Errorf("Backup contents = %v", got)
	}
}

func TestRun_BadRoot(t *testing.T) {
	remote := newFakeRemote()

	_, err := New(remote, Options{}, nil).Run(context.Background(), filepath.Join(t.TempDir(), "nope"), "X")
	if code := utils.ErrorCode(err); code != utils.ErrCodePathNotFound {
		t.Errorf("code = %s, want %s", code, utils.ErrCodePathNotFound)
	}
	if remote.creates != 0 {
		t.Error("no remote folder should be created for a missing root")
	}
}

func TestRun_EmptyDirectory(t *testing.T) {
	remote := newFakeRemote()
	log := &eventLog{}

	result, err := New(remote, Options{Reporter: log}, nil).Run(context.Background(), t.TempDir(), "Empty")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalBytes != 0 || result.Folders != 1 || len(log.events) != 0 {
		t.Errorf("result = %+v, events = %d", result, len(log.events))
	}
}

func TestRun_Exclude(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"keep.txt":        "1234",
		"debug.log":       "xxxxxxxx",
		".git/HEAD":       "ref",
		"src/main.go":     "1234",
		"src/.git/config": "x",
	})
	remote := newFakeRemote()
	log := &eventLog{}

	result, err := New(remote, Options{
		Exclude:  exclude.New([]string{"*.log"}, true),
		Reporter: log,
	}, nil).Run(context.Background(), root, "Src")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.TotalBytes != 8 || result.Files != 2 {
		t.Errorf("result = %+v", result)
	}
	if got := remote.children(result.RootID); !reflect.DeepEqual(got, []string{"keep.txt", "src/"}) {
		t.Errorf("Src contents = %v", got)
	}
	if p := log.percents(); p[len(p)-1] != 100 {
		t.Errorf("last percent = %v", p[len(p)-1])
	}
}

func TestRun_Concurrent(t *testing.T) {
	root := t.TempDir()
	tree := map[string]string{}
	for i := 0; i < 30; i++ {
		tree[filepath.ToSlash(filepath.Join("d", string(rune('a'+i%26))+strings.Repeat("x", i)))] = strings.Repeat("z", i+1)
	}
	testutil.WriteTree(t, root, tree)
	remote := newFakeRemote()
	log := &eventLog{}

	result, err := New(remote, Options{Concurrency: 4, Reporter: log}, nil).Run(context.Background(), root, "Par")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Files != 30 || remote.uploads != 30 {
		t.Errorf("files = %d, uploads = %d", result.Files, remote.uploads)
	}
	if result.UploadedBytes != result.TotalBytes {
		t.Errorf("uploaded %d of %d bytes", result.UploadedBytes, result.TotalBytes)
	}
	highest := 0.0
	for _, p := range log.percents() {
		if p > highest {
			highest = p
		}
	}
	if highest != 100 {
		t.Errorf("max percent = %v, want 100", highest)
	}
}

func TestRun_UploadFailureStopsRun(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	boom := errors.New("quota")
	remote.failUpload["a.txt"] = boom

	_, err := New(remote, Options{}, nil).Run(context.Background(), root, "Backup")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if remote.uploads != 0 {
		t.Errorf("uploads = %d, want 0", remote.uploads)
	}
}

func TestRun_CheckpointResume(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"a.txt":     strings.Repeat("a", 10),
		"sub/b.txt": strings.Repeat("b", 20),
		"sub/c.txt": strings.Repeat("c", 10),
	})
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	defer store.Close()

	remote := newFakeRemote()
	remote.failUpload["c.txt"] = errors.New("connection reset")

	if _, err := New(remote, Options{Checkpoint: store}, nil).Run(context.Background(), root, "Backup"); err == nil {
		t.Fatal("expected the first run to fail")
	}
	if remote.uploads != 2 {
		t.Fatalf("uploads before resume = %d, want 2", remote.uploads)
	}

	log := &eventLog{}
	result, err := New(remote, Options{Checkpoint: store, Reporter: log}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	if remote.uploads != 3 {
		t.Errorf("uploads after resume = %d, want 3", remote.uploads)
	}
	if got := remote.folderCount(); got != 2 {
		t.Errorf("folders = %d, want 2", got)
	}
	if result.Skipped != 2 || result.Files != 1 {
		t.Errorf("resume: %d skipped, %d uploaded", result.Skipped, result.Files)
	}
	percents := log.percents()
	if !reflect.DeepEqual(percents, []float64{25, 75, 100}) {
		t.Errorf("percents = %v, want [25 75 100]", percents)
	}

	key, err := CheckpointKey(root, "Backup")
	if err != nil {
		t.Fatalf("CheckpointKey: %v", err)
	}
	if n, _ := store.Count(context.Background(), key); n != 0 {
		t.Errorf("journal entries after success = %d, want 0", n)
	}
}

func TestRun_CheckpointReuploadsChangedFiles(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, path string)
	}{
		{
			name: "size changed",
			change: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte(strings.Repeat("a", 500)), 0644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "same size, newer mtime",
			change: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte(strings.Repeat("z", 10)), 0644); err != nil {
					t.Fatal(err)
				}
				later := time.Now().Add(time.Hour)
				if err := os.Chtimes(path, later, later); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			testutil.WriteTree(t, root, map[string]string{
				"a.txt":     strings.Repeat("a", 10),
				"sub/b.txt": strings.Repeat("b", 20),
				"sub/c.txt": strings.Repeat("c", 10),
			})
			store, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
			if err != nil {
				t.Fatalf("checkpoint.Open: %v", err)
			}
			defer store.Close()

			remote := newFakeRemote()
			remote.failUpload["c.txt"] = errors.New("connection reset")
			if _, err := New(remote, Options{Checkpoint: store}, nil).Run(context.Background(), root, "Backup"); err == nil {
				t.Fatal("expected the first run to fail")
			}

			tt.change(t, filepath.Join(root, "a.txt"))

			result, err := New(remote, Options{Checkpoint: store}, nil).Run(context.Background(), root, "Backup")
			if err != nil {
				t.Fatalf("resume: %v", err)
			}
			if remote.uploads != 4 {
				t.Errorf("uploads = %d, want 4", remote.uploads)
			}
			if result.Files != 2 || result.Skipped != 1 {
				t.Errorf("resume: %d uploaded, %d skipped, want 2 and 1", result.Files, result.Skipped)
			}
			if result.UploadedBytes != result.TotalBytes {
				t.Errorf("uploaded %d of %d bytes", result.UploadedBytes, result.TotalBytes)
			}
		})
	}
}

func TestRun_ReuseSettlesAfterChange(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	m := New(remote, Options{Policy: PolicyReuse}, nil)

	if _, err := m.Run(context.Background(), root, "Backup"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte(strings.Repeat("a", 500)), 0644); err != nil {
		t.Fatal(err)
	}

	second, err := m.Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Files != 1 || second.Skipped != 1 {
		t.Errorf("second run: %d uploaded, %d skipped", second.Files, second.Skipped)
	}

	third, err := m.Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if third.Files != 0 || third.Skipped != 2 {
		t.Errorf("third run: %d uploaded, %d skipped, want 0 and 2", third.Files, third.Skipped)
	}
	if remote.uploads != 3 {
		t.Errorf("uploads = %d, want 3", remote.uploads)
	}
	if got := remote.children(third.RootID); !reflect.DeepEqual(got, []string{"a.txt", "a.txt", "sub/"}) {
		t.Errorf("root children = %v", got)
	}
}

func TestRun_ConcurrentReportsAreOrdered(t *testing.T) {
	root := t.TempDir()
	tree := make(map[string]string)
	for i := 0; i < 24; i++ {
		tree[fmt.Sprintf("f%02d.bin", i)] = strings.Repeat("x", 1+i*37%101)
	}
	testutil.WriteTree(t, root, tree)

	var inside, overlapped atomic.Int32
	log := &eventLog{}
	reporter := ReporterFunc(func(e Event) {
		if inside.Add(1) > 1 {
			overlapped.Store(1)
		}
		time.Sleep(time.Millisecond)
		log.Report(e)
		inside.Add(-1)
	})

	result, err := New(newFakeRemote(), Options{Concurrency: 6, Reporter: reporter}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if overlapped.Load() != 0 {
		t.Error("reporter was called concurrently")
	}
	percents := log.percents()
	if len(percents) != result.Files {
		t.Fatalf("%d events for %d files", len(percents), result.Files)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("percent went from %v to %v", percents[i-1], percents[i])
		}
	}
	if last := percents[len(percents)-1]; last != 100 {
		t.Errorf("final percent = %v, want 100", last)
	}
}

func TestRun_CancelStopsWalk(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()
	ctx, cancel := context.WithCancel(context.Background())

	reporter := ReporterFunc(func(Event) { cancel() })
	_, err := New(remote, Options{Reporter: reporter}, nil).Run(ctx, root, "Backup")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if remote.uploads != 1 {
		t.Errorf("uploads = %d, want 1", remote.uploads)
	}
}

func TestRun_ReporterPanicIsContained(t *testing.T) {
	root := exampleTree(t)
	remote := newFakeRemote()

	reporter := ReporterFunc(func(Event) { panic("display broke") })
	result, err := New(remote, Options{Reporter: reporter}, nil).Run(context.Background(), root, "Backup")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Files != 2 {
		t.Errorf("files = %d, want 2", result.Files)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyCreate, false},
		{"create", PolicyCreate, false},
		{"Reuse", PolicyReuse, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

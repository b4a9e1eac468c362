package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/config"
	"github.com/dl-alexandre/gdmirror/internal/mirror"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

// withMirrorState isolates the package-level config and mirror flags
func withMirrorState(t *testing.T) {
	t.Helper()
	savedConfig := appConfig
	savedPolicy, savedConcurrency := mirrorPolicy, mirrorConcurrency
	savedExclude, savedDefaults := mirrorExclude, mirrorDefaultExcludes
	savedMime := mirrorMimeType
	t.Cleanup(func() {
		appConfig = savedConfig
		mirrorPolicy, mirrorConcurrency = savedPolicy, savedConcurrency
		mirrorExclude, mirrorDefaultExcludes = savedExclude, savedDefaults
		mirrorMimeType = savedMime
	})
	appConfig = config.DefaultConfig()
	mirrorPolicy, mirrorConcurrency = "", 0
	mirrorExclude, mirrorDefaultExcludes = nil, false
	mirrorMimeType = ""
}

// newMirrorTestCmd parses args against a fresh command bound to the mirror flags
func newMirrorTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "mirror"}
	cmd.Flags().StringVar(&mirrorPolicy, "policy", "", "")
	cmd.Flags().IntVar(&mirrorConcurrency, "concurrency", 0, "")
	cmd.Flags().StringVar(&mirrorMimeType, "mime-type", "", "")
	addExcludeFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestRemoteNameFor(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "holiday-photos")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit", func(t *testing.T) {
		got, err := remoteNameFor(dir, []string{dir, "  Backup 2024 "})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "Backup 2024" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("derived", func(t *testing.T) {
		got, err := remoteNameFor(dir+string(filepath.Separator), []string{dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "holiday-photos" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("blank explicit", func(t *testing.T) {
		_, err := remoteNameFor(dir, []string{dir, "   "})
		if utils.ErrorCode(err) != utils.ErrCodeInvalidArgument {
			t.Errorf("expected INVALID_ARGUMENT, got %v", err)
		}
	})

	t.Run("filesystem root", func(t *testing.T) {
		root := string(filepath.Separator)
		_, err := remoteNameFor(root, []string{root})
		if utils.ErrorCode(err) != utils.ErrCodeInvalidArgument {
			t.Errorf("expected INVALID_ARGUMENT, got %v", err)
		}
	})
}

func TestExcludeMatcher(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		withMirrorState(t)
		if m := excludeMatcher(newMirrorTestCmd(t)); m != nil {
			t.Errorf("expected nil matcher, got %v", m.Patterns())
		}
	})

	t.Run("config and flags merge", func(t *testing.T) {
		withMirrorState(t)
		appConfig.ExcludePatterns = []string{"*.log"}
		m := excludeMatcher(newMirrorTestCmd(t, "--exclude", "build/"))
		if !m.IsExcluded("app.log", false) {
			t.Error("config pattern not applied")
		}
		if !m.IsExcluded("build", true) {
			t.Error("flag pattern not applied")
		}
		if m.IsExcluded("main.go", false) {
			t.Error("unexpected exclusion")
		}
	})

	t.Run("flag overrides config defaults", func(t *testing.T) {
		withMirrorState(t)
		appConfig.DefaultExcludes = true
		if m := excludeMatcher(newMirrorTestCmd(t)); !m.IsExcluded(".git", true) {
			t.Error("config default excludes not applied")
		}
		if m := excludeMatcher(newMirrorTestCmd(t, "--default-excludes=false")); m != nil {
			t.Errorf("expected nil matcher, got %v", m.Patterns())
		}
	})
}

func TestMirrorOptions(t *testing.T) {
	t.Run("config defaults", func(t *testing.T) {
		withMirrorState(t)
		appConfig.MirrorPolicy = "reuse"
		appConfig.MirrorConcurrency = 4

		opts, err := mirrorOptions(newMirrorTestCmd(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if opts.Policy != mirror.PolicyReuse || opts.Concurrency != 4 {
			t.Errorf("opts = %+v", opts)
		}
	})

	t.Run("flags win", func(t *testing.T) {
		withMirrorState(t)
		appConfig.MirrorPolicy = "reuse"

		opts, err := mirrorOptions(newMirrorTestCmd(t, "--policy", "create", "--concurrency", "2", "--mime-type", "text/plain"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if opts.Policy != mirror.PolicyCreate || opts.Concurrency != 2 || opts.MimeType != "text/plain" {
			t.Errorf("opts = %+v", opts)
		}
	})

	t.Run("bad policy", func(t *testing.T) {
		withMirrorState(t)
		_, err := mirrorOptions(newMirrorTestCmd(t, "--policy", "merge"))
		if utils.ErrorCode(err) != utils.ErrCodeInvalidArgument {
			t.Errorf("expected INVALID_ARGUMENT, got %v", err)
		}
	})

	t.Run("zero concurrency", func(t *testing.T) {
		withMirrorState(t)
		_, err := mirrorOptions(newMirrorTestCmd(t, "--concurrency", "0"))
		if utils.ErrorCode(err) != utils.ErrCodeInvalidArgument {
			t.Errorf("expected INVALID_ARGUMENT, got %v", err)
		}
	})
}

func TestMirrorReporter(t *testing.T) {
	w, _, stderr := newTestWriter(types.OutputFormatTable, false)
	r := newMirrorReporter(w)

	r.Report(mirror.Event{Name: "b.txt", RelativePath: "a/b.txt", Bytes: 1024, Percent: 50})
	r.Report(mirror.Event{Name: "c.txt", RelativePath: "a/c.txt", Bytes: 1024, Percent: 100, Skipped: true})

	want := "[ 50.0%] uploaded a/b.txt (1.0 KiB)\n[100.0%] skipped a/c.txt (1.0 KiB)\n"
	if got := stderr.String(); got != want {
		t.Errorf("reporter output:\n%q\nwant:\n%q", got, want)
	}

	quiet, _, quietErr := newTestWriter(types.OutputFormatTable, true)
	newMirrorReporter(quiet).Report(mirror.Event{RelativePath: "x", Percent: 10})
	if quietErr.Len() != 0 {
		t.Errorf("quiet reporter wrote %q", quietErr.String())
	}
}

func TestTransferProgress(t *testing.T) {
	var stderr bytes.Buffer
	w := NewOutputWriter(types.OutputFormatTable, false, false)
	w.SetWriters(&bytes.Buffer{}, &stderr)

	progress := transferProgress(w, "report.txt")
	progress(50, 100)
	progress(50, 100)
	progress(100, 100)

	want := "\rreport.txt 50 B / 100 B (50%)\rreport.txt 100 B / 100 B (100%)\n"
	if got := stderr.String(); got != want {
		t.Errorf("progress output %q, want %q", got, want)
	}

	quiet := NewOutputWriter(types.OutputFormatTable, true, false)
	if transferProgress(quiet, "x") != nil {
		t.Error("quiet writer should disable progress")
	}
}

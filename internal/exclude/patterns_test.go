package exclude

import "testing"

func TestIsExcluded(t *testing.T) {
	m := New([]string{"build/", "*.bak", "docs/private", "secret.txt", "  "}, true)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{"sub/.git", true, true},
		{"src/node_modules", true, true},
		{"build", true, true},
		{"a/build", true, true},
		{"build", false, false},
		{"notes.bak", false, true},
		{"deep/dir/notes.bak", false, true},
		{"docs/private", true, true},
		{"docs/private/x.txt", false, true},
		{"docs/public/x.txt", false, false},
		{"secret.txt", false, true},
		{"nested/secret.txt", false, true},
		{"nested/secret.txt", true, false},
		{".DS_Store", false, true},
		{"._resource", false, true},
		{"main.go", false, false},
		{"./main.go", false, false},
	}

	for _, tt := range tests {
		if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
			t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestNew_WithoutDefaults(t *testing.T) {
	m := New([]string{"*.log"}, false)

	if m.IsExcluded(".git", true) {
		t.Error(".git should only be excluded by the defaults")
	}
	if !m.IsExcluded("run.log", false) {
		t.Error("run.log should be excluded")
	}
	if got := len(m.Patterns()); got != 1 {
		t.Errorf("len(Patterns()) = %d, want 1", got)
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	if m.IsExcluded("anything", false) {
		t.Error("nil matcher must not exclude")
	}
	if m.Patterns() != nil {
		t.Error("nil matcher has no patterns")
	}
}

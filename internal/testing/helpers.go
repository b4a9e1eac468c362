package testing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/api"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/google/uuid"
)

// TestContext returns a context cancelled when the test ends, so uploads
// left running by a failed assertion stop with it
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// TestRequestContext returns a request context with a fresh trace ID
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:           "test-profile",
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       types.RequestTypeListOrSearch,
		TraceID:           "test-" + uuid.NewString(),
	}
}

// TestRetryPolicy retries without sleeping so failure injection stays fast
func TestRetryPolicy(maxRetries int) api.RetryPolicy {
	return api.RetryPolicy{MaxRetries: maxRetries, BaseDelay: 0, MaxDelay: 1}
}

// Client returns an API client bound to the fake server
func (s *DriveServer) Client(t *testing.T, policy api.RetryPolicy) *api.Client {
	t.Helper()
	return api.NewClient(s.Service(t), policy, nil)
}

// WriteTree lays out a local directory under root. Keys are slash
// separated paths; a key ending in "/" makes an empty directory.
func WriteTree(t *testing.T, root string, tree map[string]string) {
	t.Helper()
	for rel, content := range tree {
		p := filepath.Join(root, filepath.FromSlash(rel))
		dir := filepath.Dir(p)
		if strings.HasSuffix(rel, "/") {
			dir = p
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if dir == p {
			continue
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		return
	}
	if len(msgAndArgs) > 0 {
		t.Fatalf("%v: %v", msgAndArgs[0], err)
	}
	t.Fatalf("unexpected error: %v", err)
}

// AssertErrorCode fails unless err carries the given CLI error code
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error but got nil", code)
	}
	if got := utils.ErrorCode(err); got != code {
		t.Fatalf("error code = %s, want %s (%v)", got, code, err)
	}
}

func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if got == want {
		return
	}
	if len(msgAndArgs) > 0 {
		t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
	}
	t.Fatalf("got %v, want %v", got, want)
}

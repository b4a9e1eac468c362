package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/api"
	testutil "github.com/dl-alexandre/gdmirror/internal/testing"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

func newDriveRemote(t *testing.T, maxRetries int) (*DriveRemote, *testutil.DriveServer) {
	t.Helper()
	srv := testutil.NewDriveServer(t)
	client := srv.Client(t, testutil.TestRetryPolicy(maxRetries))
	return NewDriveRemote(client, api.NewRequestContext("test", "", types.RequestTypeMirror)), srv
}

func TestDriveRemote_Example(t *testing.T) {
	root := exampleTree(t)
	remote, srv := newDriveRemote(t, 0)
	log := &eventLog{}

	result, err := New(remote, Options{Reporter: log}, nil).Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)

	top := srv.Children("root")
	testutil.AssertEqual(t, len(top), 1)
	testutil.AssertEqual(t, top[0].Id, result.RootID)

	children := srv.Children(result.RootID)
	testutil.AssertEqual(t, len(children), 2)
	testutil.AssertEqual(t, children[0].Name, "a.txt")
	testutil.AssertEqual(t, children[0].MimeType, utils.MimeTypeOctetStream)
	testutil.AssertEqual(t, children[1].Name, "sub")
	testutil.AssertEqual(t, children[1].MimeType, utils.MimeTypeFolder)

	sub := srv.Children(children[1].Id)
	testutil.AssertEqual(t, len(sub), 1)
	testutil.AssertEqual(t, string(srv.Content(sub[0].Id)), "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	testutil.AssertEqual(t, log.events[0].Percent, 25.0)
	testutil.AssertEqual(t, log.events[1].Percent, 100.0)
}

func TestDriveRemote_TransientUploadFailureIsRetried(t *testing.T) {
	root := exampleTree(t)
	remote, srv := newDriveRemote(t, 2)
	srv.Fail(testutil.Failure{Op: testutil.OpUpload, Status: 503, Reason: "backendError"})

	result, err := New(remote, Options{}, nil).Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, srv.Calls(testutil.OpUpload), 3)
	testutil.AssertEqual(t, srv.Calls(testutil.OpCreate), 2, "one create for the root and one for sub")
	testutil.AssertEqual(t, len(srv.Children(result.RootID)), 2)
}

func TestDriveRemote_ReuseIsIdempotent(t *testing.T) {
	root := exampleTree(t)
	remote, srv := newDriveRemote(t, 0)
	m := New(remote, Options{Policy: PolicyReuse}, nil)

	first, err := m.Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)
	second, err := m.Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, second.RootID, first.RootID)
	testutil.AssertEqual(t, second.Skipped, 2)
	testutil.AssertEqual(t, srv.Calls(testutil.OpCreate), 2)
	testutil.AssertEqual(t, srv.Calls(testutil.OpUpload), 2)
}

func TestDriveRemote_ReuseSettlesAfterChange(t *testing.T) {
	root := exampleTree(t)
	remote, srv := newDriveRemote(t, 0)
	m := New(remote, Options{Policy: PolicyReuse}, nil)

	_, err := m.Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed contents"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = m.Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)
	third, err := m.Run(context.Background(), root, "Backup")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, third.Files, 0)
	testutil.AssertEqual(t, third.Skipped, 2)
	testutil.AssertEqual(t, srv.Calls(testutil.OpUpload), 3)
}

func TestDriveRemote_FindFilesIgnoresFolders(t *testing.T) {
	remote, srv := newDriveRemote(t, 0)
	parent := srv.AddFolder("p", "")
	srv.AddFolder("same", parent)
	first := srv.AddFile("same", parent, []byte("x"))
	second := srv.AddFile("same", parent, []byte("yy"))
	srv.AddFile("other", parent, []byte("x"))

	got, err := remote.FindFiles(context.Background(), parent, "same")
	testutil.AssertNoError(t, err)
	if len(got) != 2 {
		t.Fatalf("found %d files, want 2", len(got))
	}
	ids := map[string]string{got[0].ID: got[0].MD5Checksum, got[1].ID: got[1].MD5Checksum}
	testutil.AssertEqual(t, ids[first], "9dd4e461268c8034f5c8564e155c67a6")
	if _, ok := ids[second]; !ok {
		t.Errorf("second copy %s missing from %v", second, ids)
	}
}

func TestDriveRemote_PermissionErrorPropagates(t *testing.T) {
	root := exampleTree(t)
	remote, srv := newDriveRemote(t, 3)
	srv.Fail(testutil.Failure{Op: testutil.OpCreate, Status: 403, Reason: "insufficientFilePermissions"})

	_, err := New(remote, Options{}, nil).Run(context.Background(), root, "Backup")
	testutil.AssertErrorCode(t, err, utils.ErrCodePermissionDenied)
	testutil.AssertEqual(t, srv.Calls(testutil.OpUpload), 0)
}

package mirror

import (
	"context"

	"github.com/dl-alexandre/gdmirror/internal/api"
	"github.com/dl-alexandre/gdmirror/internal/files"
	"github.com/dl-alexandre/gdmirror/internal/folders"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

// Remote is the slice of Drive a mirror needs
type Remote interface {
	// CreateFolderIfAbsent returns the top-level folder called name, creating it if needed
	CreateFolderIfAbsent(ctx context.Context, name string) (*types.DriveFile, error)
	// CreateFolder always creates a new folder under parentID
	CreateFolder(ctx context.Context, name, parentID string) (*types.DriveFile, error)
	// FindFolder returns the folder called name directly under parentID, or nil
	FindFolder(ctx context.Context, parentID, name string) (*types.DriveFile, error)
	// FindFiles returns every non-folder called name directly under parentID
	FindFiles(ctx context.Context, parentID, name string) ([]*types.DriveFile, error)
	UploadFile(ctx context.Context, localPath, name, parentID, mimeType string) (*types.DriveFile, error)
}

// DriveRemote implements Remote over the Drive file and folder managers.
// Every call forks the base request context, so one run shares a trace ID.
type DriveRemote struct {
	files   *files.Manager
	folders *folders.Manager
	reqCtx  *types.RequestContext
}

func NewDriveRemote(client *api.Client, reqCtx *types.RequestContext) *DriveRemote {
	return &DriveRemote{
		files:   files.NewManager(client),
		folders: folders.NewManager(client),
		reqCtx:  reqCtx,
	}
}

func (r *DriveRemote) CreateFolderIfAbsent(ctx context.Context, name string) (*types.DriveFile, error) {
	folder, _, err := r.folders.CreateIfAbsent(ctx, r.reqCtx.Fork(types.RequestTypeMutation), name)
	return folder, err
}

func (r *DriveRemote) CreateFolder(ctx context.Context, name, parentID string) (*types.DriveFile, error) {
	return r.folders.Create(ctx, r.reqCtx.Fork(types.RequestTypeMutation), name, parentID)
}

func (r *DriveRemote) FindFolder(ctx context.Context, parentID, name string) (*types.DriveFile, error) {
	return r.folders.FindChild(ctx, r.reqCtx.Fork(types.RequestTypeListOrSearch), parentID, name)
}

func (r *DriveRemote) FindFiles(ctx context.Context, parentID, name string) ([]*types.DriveFile, error) {
	listed, err := r.files.ListAll(ctx, r.reqCtx.Fork(types.RequestTypeListOrSearch), files.ListOptions{
		ParentID: parentID,
		Query:    "name = " + api.QuoteQuery(name) + " and mimeType != '" + utils.MimeTypeFolder + "'",
	})
	if err != nil {
		return nil, err
	}
	var matches []*types.DriveFile
	for _, f := range listed {
		if f.Name == name {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

func (r *DriveRemote) UploadFile(ctx context.Context, localPath, name, parentID, mimeType string) (*types.DriveFile, error) {
	return r.files.Upload(ctx, r.reqCtx.Fork(types.RequestTypeUpload), localPath, files.UploadOptions{
		ParentID: parentID,
		Name:     name,
		MimeType: mimeType,
	})
}

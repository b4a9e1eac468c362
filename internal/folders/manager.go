package folders

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/gdmirror/internal/api"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"google.golang.org/api/drive/v3"
)

// Manager handles folder operations
type Manager struct {
	client *api.Client
	shaper *api.RequestShaper
}

// NewManager creates a new folder manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client: client,
		shaper: api.NewRequestShaper(client),
	}
}

// Create creates a new folder. It never checks for an existing folder of
// the same name, so two calls produce two folders.
func (m *Manager) Create(ctx context.Context, reqCtx *types.RequestContext, name string, parentID string) (*types.DriveFile, error) {
	if parentID != "" {
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	metadata := &drive.File{
		Name:     name,
		MimeType: utils.MimeTypeFolder,
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		call := m.client.Service().Files.Create(metadata)
		call = m.shaper.ShapeFilesCreate(call, reqCtx)
		return call.Fields(api.FileFields).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	m.client.Logger().Debug("Folder created",
		logging.F("id", result.Id),
		logging.F("name", name),
		logging.F("parentId", parentID),
	)
	return api.ConvertFile(result), nil
}

// CreateIfAbsent returns the top-level folder called name, creating it when
// none exists. The bool reports whether a folder was created.
func (m *Manager) CreateIfAbsent(ctx context.Context, reqCtx *types.RequestContext, name string) (*types.DriveFile, bool, error) {
	parentID := m.topLevelParent(reqCtx)

	existing, err := m.FindChild(ctx, reqCtx, parentID, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if reqCtx.DriveID == "" {
		parentID = ""
	}
	created, err := m.Create(ctx, reqCtx, name, parentID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// FindChild returns the first non-trashed folder named exactly name directly
// under parentID, or nil when there is none.
func (m *Manager) FindChild(ctx context.Context, reqCtx *types.RequestContext, parentID string, name string) (*types.DriveFile, error) {
	query := fmt.Sprintf("%s in parents and trashed = false and mimeType = '%s' and name = %s",
		api.QuoteQuery(parentID), utils.MimeTypeFolder, api.QuoteQuery(name))

	pageToken := ""
	for {
		result, err := m.list(ctx, reqCtx, query, utils.DefaultListPageSize, pageToken)
		if err != nil {
			return nil, err
		}
		for _, f := range result.Files {
			if f.Name == name && f.MimeType == utils.MimeTypeFolder {
				return f, nil
			}
		}
		if result.NextPageToken == "" {
			return nil, nil
		}
		pageToken = result.NextPageToken
	}
}

// FindByName returns the top-level folder named name
func (m *Manager) FindByName(ctx context.Context, reqCtx *types.RequestContext, name string) (*types.DriveFile, error) {
	folder, err := m.FindChild(ctx, reqCtx, m.topLevelParent(reqCtx), name)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound,
			fmt.Sprintf("Folder not found: %s", name)).
			WithContext("name", name).
			WithContext("traceId", reqCtx.TraceID).
			Build())
	}
	return folder, nil
}

// List lists folder contents
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int, pageToken string) (*types.FileListResult, error) {
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, folderID)

	query := fmt.Sprintf("%s in parents and trashed = false", api.QuoteQuery(folderID))
	return m.list(ctx, reqCtx, query, pageSize, pageToken)
}

func (m *Manager) list(ctx context.Context, reqCtx *types.RequestContext, query string, pageSize int, pageToken string) (*types.FileListResult, error) {
	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		call := m.client.Service().Files.List().Q(query)
		call = m.shaper.ShapeFilesList(call, reqCtx)
		call = call.Fields(api.ListFields)
		if pageSize > 0 {
			call = call.PageSize(int64(pageSize))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	files := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		files[i] = api.ConvertFile(f)
	}

	return &types.FileListResult{
		Files:            files,
		NextPageToken:    result.NextPageToken,
		IncompleteSearch: result.IncompleteSearch,
	}, nil
}

// topLevelParent is the shared drive root when one is selected, else My Drive
func (m *Manager) topLevelParent(reqCtx *types.RequestContext) string {
	if reqCtx.DriveID != "" {
		return reqCtx.DriveID
	}
	return "root"
}

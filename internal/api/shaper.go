package api

import (
	"github.com/dl-alexandre/gdmirror/internal/types"
	"google.golang.org/api/drive/v3"
)

const resourceKeysHeader = "X-Goog-Drive-Resource-Keys"

// RequestShaper applies shared-drive flags and resource-key headers to Drive calls
type RequestShaper struct {
	client *Client
}

// NewRequestShaper creates a shaper bound to client
func NewRequestShaper(client *Client) *RequestShaper {
	return &RequestShaper{client: client}
}

func (s *RequestShaper) resourceKeys(reqCtx *types.RequestContext) string {
	if s.client == nil {
		return ""
	}
	ids := append(append([]string{}, reqCtx.InvolvedFileIDs...), reqCtx.InvolvedParentIDs...)
	return s.client.ResourceKeys().BuildHeader(ids)
}

func (s *RequestShaper) ShapeFilesGet(call *drive.FilesGetCall, reqCtx *types.RequestContext) *drive.FilesGetCall {
	call = call.SupportsAllDrives(true)
	if header := s.resourceKeys(reqCtx); header != "" {
		call.Header().Set(resourceKeysHeader, header)
	}
	return call
}

// ShapeFilesList scopes the listing to reqCtx.DriveID when set, otherwise to
// the user's corpus plus every shared drive they can see.
func (s *RequestShaper) ShapeFilesList(call *drive.FilesListCall, reqCtx *types.RequestContext) *drive.FilesListCall {
	call = call.SupportsAllDrives(true).IncludeItemsFromAllDrives(true)
	if reqCtx.DriveID != "" {
		call = call.DriveId(reqCtx.DriveID).Corpora("drive")
	}
	if header := s.resourceKeys(reqCtx); header != "" {
		call.Header().Set(resourceKeysHeader, header)
	}
	return call
}

func (s *RequestShaper) ShapeFilesCreate(call *drive.FilesCreateCall, reqCtx *types.RequestContext) *drive.FilesCreateCall {
	call = call.SupportsAllDrives(true)
	if header := s.resourceKeys(reqCtx); header != "" {
		call.Header().Set(resourceKeysHeader, header)
	}
	return call
}

func (s *RequestShaper) ShapeFilesUpdate(call *drive.FilesUpdateCall, reqCtx *types.RequestContext) *drive.FilesUpdateCall {
	call = call.SupportsAllDrives(true)
	if header := s.resourceKeys(reqCtx); header != "" {
		call.Header().Set(resourceKeysHeader, header)
	}
	return call
}

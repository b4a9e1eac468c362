package api

import (
	"strings"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"google.golang.org/api/drive/v3"
)

// FileFields is the partial response requested for single-file calls
const FileFields = "id,name,mimeType,size,md5Checksum,createdTime,modifiedTime,parents,driveId,resourceKey,trashed,webViewLink,capabilities(canDownload,canEdit,canDelete,canTrash)"

// ListFields is the partial response requested for list calls
const ListFields = "nextPageToken,incompleteSearch,files(" + FileFields + ")"

// QuoteQuery quotes a value for use inside a Drive q expression
func QuoteQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// ConvertFile maps a Drive API file onto the CLI representation
func ConvertFile(f *drive.File) *types.DriveFile {
	file := &types.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		CreatedTime:  f.CreatedTime,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		DriveID:      f.DriveId,
		ResourceKey:  f.ResourceKey,
		WebViewLink:  f.WebViewLink,
		Trashed:      f.Trashed,
	}
	if f.Capabilities != nil {
		file.Capabilities = &types.FileCapabilities{
			CanDownload: f.Capabilities.CanDownload,
			CanEdit:     f.Capabilities.CanEdit,
			CanDelete:   f.Capabilities.CanDelete,
			CanTrash:    f.Capabilities.CanTrash,
		}
	}
	return file
}

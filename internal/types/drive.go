package types

import "github.com/dustin/go-humanize"

// DriveFile represents a Google Drive file or folder
type DriveFile struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	MimeType       string            `json:"mimeType"`
	Size           int64             `json:"size,omitempty"`
	MD5Checksum    string            `json:"md5Checksum,omitempty"`
	CreatedTime    string            `json:"createdTime,omitempty"`
	ModifiedTime   string            `json:"modifiedTime,omitempty"`
	Parents        []string          `json:"parents,omitempty"`
	DriveID        string            `json:"driveId,omitempty"`
	Capabilities   *FileCapabilities `json:"capabilities,omitempty"`
	ResourceKey    string            `json:"resourceKey,omitempty"`
	WebViewLink    string            `json:"webViewLink,omitempty"`
	WebContentLink string            `json:"webContentLink,omitempty"`
	Trashed        bool              `json:"trashed,omitempty"`
}

// FileCapabilities represents what actions can be performed on a file
type FileCapabilities struct {
	CanDownload bool `json:"canDownload"`
	CanEdit     bool `json:"canEdit"`
	CanDelete   bool `json:"canDelete"`
	CanTrash    bool `json:"canTrash"`
}

// FileListResult represents paginated file list response
type FileListResult struct {
	Files            []*DriveFile `json:"files"`
	NextPageToken    string       `json:"nextPageToken,omitempty"`
	IncompleteSearch bool         `json:"incompleteSearch,omitempty"`
}

// HasParent reports whether parentID is one of the file's parents
func (f *DriveFile) HasParent(parentID string) bool {
	for _, p := range f.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

func (r *FileListResult) AsTableRenderer() TableRenderer {
	return fileTable{files: r.Files, nextPageToken: r.NextPageToken, incomplete: r.IncompleteSearch}
}

type fileTable struct {
	files         []*DriveFile
	nextPageToken string
	incomplete    bool
}

func (t fileTable) Headers() []string {
	return []string{"ID", "Name", "Type", "Size", "Modified"}
}

func (t fileTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.files))
	for _, f := range t.files {
		size := "-"
		if f.Size > 0 {
			size = humanize.IBytes(uint64(f.Size))
		}
		rows = append(rows, []string{f.ID, f.Name, f.MimeType, size, f.ModifiedTime})
	}
	return rows
}

func (t fileTable) EmptyMessage() string {
	return "No files found."
}

// Footer points at the next page or flags a partial search
func (t fileTable) Footer() string {
	switch {
	case t.nextPageToken != "":
		return "More results available. Use --page-token " + t.nextPageToken + " to continue."
	case t.incomplete:
		return "Warning: search results may be incomplete."
	}
	return ""
}

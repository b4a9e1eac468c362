package utils

// Upload thresholds (binary units)
const (
	UploadSimpleMaxBytes = 5 * 1024 * 1024 // 5 MiB
	UploadChunkSize      = 8 * 1024 * 1024 // 8 MiB
)

// Default page size used by the plain listing command
const DefaultListPageSize = 20

// OAuth scopes
const (
	ScopeFull     = "https://www.googleapis.com/auth/drive"
	ScopeFile     = "https://www.googleapis.com/auth/drive.file"
	ScopeAppdata  = "https://www.googleapis.com/auth/drive.appdata"
	ScopeScripts  = "https://www.googleapis.com/auth/drive.scripts"
	ScopeMetadata = "https://www.googleapis.com/auth/drive.metadata"
)

// DefaultScopes is requested on login
var DefaultScopes = []string{
	ScopeFull,
	ScopeFile,
	ScopeAppdata,
	ScopeScripts,
	ScopeMetadata,
}

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Schema version
const SchemaVersion = "1.0"

// MIME types
const (
	MimeTypeFolder      = "application/vnd.google-apps.folder"
	MimeTypeOctetStream = "application/octet-stream"
)

// IsWorkspaceMimeType checks if a MIME type is a Google Workspace type.
// Workspace documents have no binary content and cannot be downloaded directly.
func IsWorkspaceMimeType(mimeType string) bool {
	switch mimeType {
	case "application/vnd.google-apps.document",
		"application/vnd.google-apps.spreadsheet",
		"application/vnd.google-apps.presentation",
		"application/vnd.google-apps.drawing",
		"application/vnd.google-apps.form",
		"application/vnd.google-apps.script":
		return true
	}
	return false
}

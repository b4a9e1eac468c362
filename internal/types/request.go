package types

// RequestType classifies a Drive API request for logging and error context
type RequestType string

const (
	RequestTypeGetByID      RequestType = "get_by_id"
	RequestTypeListOrSearch RequestType = "list_or_search"
	RequestTypeMutation     RequestType = "mutation"
	RequestTypeUpload       RequestType = "upload"
	RequestTypeDownload     RequestType = "download"
	RequestTypeMirror       RequestType = "mirror"
)

// RequestContext carries per-request metadata through the API layer
type RequestContext struct {
	Profile           string
	DriveID           string
	InvolvedFileIDs   []string
	InvolvedParentIDs []string
	RequestType       RequestType
	TraceID           string
}

// Fork returns a copy sharing the trace ID but with fresh involved-ID slices
func (r *RequestContext) Fork(requestType RequestType) *RequestContext {
	return &RequestContext{
		Profile:           r.Profile,
		DriveID:           r.DriveID,
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       requestType,
		TraceID:           r.TraceID,
	}
}

package testing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive operations a failure can be injected into
const (
	OpList     = "list"
	OpGet      = "get"
	OpDownload = "download"
	OpCreate   = "create"
	OpUpload   = "upload"
	OpUpdate   = "update"
)

// Failure makes the next Times requests of Op answer with an API error
type Failure struct {
	Op     string
	Status int
	Reason string
	Times  int
}

// DriveServer is an in-memory stand-in for the Drive v3 files endpoint.
// It understands the subset of the q language the managers generate.
type DriveServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	files    map[string]*drive.File
	content  map[string][]byte
	order    []string
	nextID   int
	failures []*Failure
	calls    map[string]int
	queries  []recordedQuery
}

type recordedQuery struct {
	Op    string
	Query string
}

// NewDriveServer starts a fake Drive server that is closed when the test ends
func NewDriveServer(t *testing.T) *DriveServer {
	t.Helper()
	s := &DriveServer{
		files:   make(map[string]*drive.File),
		content: make(map[string][]byte),
		calls:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	return s
}

// Service returns a Drive client that talks to the fake server
func (s *DriveServer) Service(t *testing.T) *drive.Service {
	t.Helper()
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(s.Server.URL+"/"),
		option.WithHTTPClient(s.Server.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	return svc
}

// AddFolder seeds a folder and returns its ID
func (s *DriveServer) AddFolder(name, parentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(&drive.File{Name: name, MimeType: folderMimeType, Parents: parents(parentID)}, nil)
}

// AddFile seeds a file with content and returns its ID
func (s *DriveServer) AddFile(name, parentID string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(&drive.File{Name: name, MimeType: "application/octet-stream", Parents: parents(parentID)}, content)
}

// Trash marks a seeded entry as trashed
func (s *DriveServer) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok {
		f.Trashed = true
	}
}

// Fail queues an injected failure
func (s *DriveServer) Fail(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Times <= 0 {
		f.Times = 1
	}
	s.failures = append(s.failures, &f)
}

// File returns a copy of the stored metadata, or nil
func (s *DriveServer) File(id string) *drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil
	}
	cp := *f
	cp.Parents = append([]string(nil), f.Parents...)
	return &cp
}

// Content returns the stored bytes of a file
func (s *DriveServer) Content(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.content[id]...)
}

// Children returns the non-trashed entries directly under parentID in creation order
func (s *DriveServer) Children(parentID string) []*drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*drive.File
	for _, id := range s.order {
		f := s.files[id]
		if !f.Trashed && hasParent(f, parentID) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out
}

// Calls reports how many requests of op reached the server, failed ones included
func (s *DriveServer) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// LastQuery returns the raw query string of the most recent request of op
func (s *DriveServer) LastQuery(op string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.queries) - 1; i >= 0; i-- {
		if s.queries[i].Op == op {
			return s.queries[i].Query
		}
	}
	return ""
}

func (s *DriveServer) handle(w http.ResponseWriter, r *http.Request) {
	op, id := classify(r)

	s.mu.Lock()
	s.calls[op]++
	s.queries = append(s.queries, recordedQuery{Op: op, Query: r.URL.RawQuery})
	failure := s.takeFailure(op)
	s.mu.Unlock()

	if failure != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		writeError(w, failure.Status, failure.Reason)
		return
	}

	switch op {
	case OpList:
		s.list(w, r)
	case OpGet:
		s.get(w, id)
	case OpDownload:
		s.download(w, id)
	case OpCreate:
		s.create(w, r)
	case OpUpload:
		s.upload(w, r)
	case OpUpdate:
		s.update(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "notFound")
	}
}

func classify(r *http.Request) (string, string) {
	path := r.URL.Path
	if strings.HasPrefix(path, "/upload/") {
		return OpUpload, ""
	}
	idx := strings.LastIndex(path, "/files")
	if idx < 0 {
		return "", ""
	}
	rest := strings.TrimPrefix(path[idx:], "/files")
	id := strings.TrimPrefix(rest, "/")
	switch {
	case r.Method == http.MethodGet && id == "":
		return OpList, ""
	case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		return OpDownload, id
	case r.Method == http.MethodGet:
		return OpGet, id
	case r.Method == http.MethodPost:
		return OpCreate, ""
	case r.Method == http.MethodPatch:
		return OpUpdate, id
	}
	return "", id
}

func (s *DriveServer) takeFailure(op string) *Failure {
	for i, f := range s.failures {
		if f.Op != op {
			continue
		}
		f.Times--
		if f.Times == 0 {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
		}
		return f
	}
	return nil
}

func (s *DriveServer) list(w http.ResponseWriter, r *http.Request) {
	preds, err := parseQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidQuery")
		return
	}

	s.mu.Lock()
	var matched []*drive.File
	for _, id := range s.order {
		f := s.files[id]
		ok := true
		for _, p := range preds {
			if !p(f) {
				ok = false
				break
			}
		}
		if ok {
			cp := *f
			matched = append(matched, &cp)
		}
	}
	s.mu.Unlock()

	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	list := &drive.FileList{}
	if end < len(matched) {
		list.NextPageToken = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	list.Files = matched[start:end]
	writeJSON(w, list)
}

func (s *DriveServer) get(w http.ResponseWriter, id string) {
	f := s.File(id)
	if f == nil {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	writeJSON(w, f)
}

func (s *DriveServer) download(w http.ResponseWriter, id string) {
	if s.File(id) == nil {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(s.Content(id))
}

func (s *DriveServer) create(w http.ResponseWriter, r *http.Request) {
	var meta drive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	s.mu.Lock()
	id := s.insert(&meta, nil)
	s.mu.Unlock()
	writeJSON(w, s.File(id))
}

func (s *DriveServer) upload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		writeError(w, http.StatusBadRequest, "unsupportedUploadType")
		return
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "badContentType")
		return
	}
	reader := multipart.NewReader(r.Body, params["boundary"])

	var meta drive.File
	part, err := reader.NextPart()
	if err == nil {
		err = json.NewDecoder(part).Decode(&meta)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	part, err = reader.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	if meta.MimeType == "" {
		meta.MimeType = part.Header.Get("Content-Type")
	}

	s.mu.Lock()
	id := s.insert(&meta, data)
	s.mu.Unlock()
	writeJSON(w, s.File(id))
}

func (s *DriveServer) update(w http.ResponseWriter, r *http.Request, id string) {
	var meta drive.File
	_ = json.NewDecoder(r.Body).Decode(&meta)

	s.mu.Lock()
	f, ok := s.files[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	if meta.Name != "" {
		f.Name = meta.Name
	}
	q := r.URL.Query()
	for _, p := range splitIDs(q.Get("removeParents")) {
		f.Parents = without(f.Parents, p)
	}
	for _, p := range splitIDs(q.Get("addParents")) {
		if !hasParent(f, p) {
			f.Parents = append(f.Parents, p)
		}
	}
	s.mu.Unlock()
	writeJSON(w, s.File(id))
}

// insert stores f under a fresh ID; callers hold mu
func (s *DriveServer) insert(f *drive.File, content []byte) string {
	s.nextID++
	f.Id = fmt.Sprintf("id-%03d", s.nextID)
	if len(f.Parents) == 0 {
		f.Parents = []string{"root"}
	}
	if f.MimeType != folderMimeType {
		f.Size = int64(len(content))
		f.Md5Checksum = md5Hex(content)
	}
	f.Capabilities = &drive.FileCapabilities{CanDownload: f.MimeType != folderMimeType, CanEdit: true}
	s.files[f.Id] = f
	s.content[f.Id] = content
	s.order = append(s.order, f.Id)
	return f.Id
}

type predicate func(*drive.File) bool

// parseQuery supports clauses joined by "and": 'ID' in parents,
// trashed = bool, and name/mimeType compared with =, != or contains.
func parseQuery(q string) ([]predicate, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	var preds []predicate
	for _, clause := range splitAnd(q) {
		tokens, err := tokenize(clause)
		if err != nil {
			return nil, err
		}
		if len(tokens) != 3 {
			return nil, fmt.Errorf("unsupported clause %q", clause)
		}
		field, op, value := tokens[0], tokens[1], tokens[2]

		switch {
		case op == "in" && value == "parents":
			parent := field
			preds = append(preds, func(f *drive.File) bool { return hasParent(f, parent) })
		case field == "trashed" && op == "=":
			want := value == "true"
			preds = append(preds, func(f *drive.File) bool { return f.Trashed == want })
		case field == "name" || field == "mimeType":
			get := func(f *drive.File) string { return f.Name }
			if field == "mimeType" {
				get = func(f *drive.File) string { return f.MimeType }
			}
			switch op {
			case "=":
				preds = append(preds, func(f *drive.File) bool { return get(f) == value })
			case "!=":
				preds = append(preds, func(f *drive.File) bool { return get(f) != value })
			case "contains":
				preds = append(preds, func(f *drive.File) bool { return strings.Contains(get(f), value) })
			default:
				return nil, fmt.Errorf("unsupported operator %q", op)
			}
		default:
			return nil, fmt.Errorf("unsupported clause %q", clause)
		}
	}
	return preds, nil
}

// splitAnd splits on " and " outside of quoted values
func splitAnd(q string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(q):
			cur.WriteByte(c)
			cur.WriteByte(q[i+1])
			i++
			continue
		case c == '\'':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(q[i:], " and "):
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(" and ") - 1
			continue
		}
		cur.WriteByte(c)
	}
	return append(parts, cur.String())
}

func tokenize(clause string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(clause) {
		switch c := clause[i]; {
		case c == ' ':
			i++
		case c == '\'':
			var b strings.Builder
			i++
			for ; i < len(clause) && clause[i] != '\''; i++ {
				if clause[i] == '\\' && i+1 < len(clause) {
					i++
				}
				b.WriteByte(clause[i])
			}
			if i >= len(clause) {
				return nil, fmt.Errorf("unterminated string in %q", clause)
			}
			i++
			tokens = append(tokens, b.String())
		default:
			j := strings.IndexByte(clause[i:], ' ')
			if j < 0 {
				j = len(clause) - i
			}
			tokens = append(tokens, clause[i:i+j])
			i += j
		}
	}
	return tokens, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := http.StatusText(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": msg,
			"errors":  []map[string]string{{"reason": reason, "message": msg}},
		},
	})
}

func parents(parentID string) []string {
	if parentID == "" {
		return nil
	}
	return []string{parentID}
}

func hasParent(f *drive.File, parentID string) bool {
	for _, p := range f.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

package mirror

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

type remoteNode struct {
	id     string
	name   string
	parent string
	isDir  bool
	size   int64
	md5    string
}

// fakeRemote is an in-memory Remote that records every mutation
type fakeRemote struct {
	mu         sync.Mutex
	next       int
	nodes      map[string]*remoteNode
	order      []string
	uploads    int
	creates    int
	failUpload map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nodes:      make(map[string]*remoteNode),
		failUpload: make(map[string]error),
	}
}

func (r *fakeRemote) add(n *remoteNode) *types.DriveFile {
	r.next++
	n.id = fmt.Sprintf("node-%d", r.next)
	r.nodes[n.id] = n
	r.order = append(r.order, n.id)
	return n.file()
}

func (n *remoteNode) file() *types.DriveFile {
	mime := utils.MimeTypeOctetStream
	if n.isDir {
		mime = utils.MimeTypeFolder
	}
	return &types.DriveFile{ID: n.id, Name: n.name, MimeType: mime, Size: n.size, MD5Checksum: n.md5, Parents: []string{n.parent}}
}

func (r *fakeRemote) CreateFolderIfAbsent(ctx context.Context, name string) (*types.DriveFile, error) {
	if found, _ := r.FindFolder(ctx, "root", name); found != nil {
		return found, nil
	}
	return r.CreateFolder(ctx, name, "root")
}

func (r *fakeRemote) CreateFolder(_ context.Context, name, parentID string) (*types.DriveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	return r.add(&remoteNode{name: name, parent: parentID, isDir: true}), nil
}

// find returns the nodes called name under parentID in creation order
func (r *fakeRemote) find(parentID, name string, isDir bool) []*types.DriveFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*types.DriveFile
	for _, id := range r.order {
		n := r.nodes[id]
		if n.parent == parentID && n.name == name && n.isDir == isDir {
			found = append(found, n.file())
		}
	}
	return found
}

func (r *fakeRemote) FindFolder(_ context.Context, parentID, name string) (*types.DriveFile, error) {
	if found := r.find(parentID, name, true); len(found) > 0 {
		return found[0], nil
	}
	return nil, nil
}

func (r *fakeRemote) FindFiles(_ context.Context, parentID, name string) ([]*types.DriveFile, error) {
	return r.find(parentID, name, false), nil
}

func (r *fakeRemote) UploadFile(_ context.Context, localPath, name, parentID, _ string) (*types.DriveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failUpload[name]; ok {
		delete(r.failUpload, name)
		return nil, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	hash, err := hashFile(localPath)
	if err != nil {
		return nil, err
	}
	r.uploads++
	return r.add(&remoteNode{name: name, parent: parentID, size: info.Size(), md5: hash}), nil
}

// children lists names under parentID, folders suffixed with "/"
func (r *fakeRemote) children(parentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, id := range r.order {
		n := r.nodes[id]
		if n.parent != parentID {
			continue
		}
		if n.isDir {
			names = append(names, n.name+"/")
		} else {
			names = append(names, n.name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *fakeRemote) folderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, node := range r.nodes {
		if node.isDir {
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Report(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) percents() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.events))
	for i, e := range l.events {
		out[i] = e.Percent
	}
	return out
}

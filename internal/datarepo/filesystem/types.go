package filesystem

import "time"

// DirectoryEntry is one node of a collection's namespace. Path holds the parent directory path, so the
// entry for /a/b/c.txt has Path "/a/b" and Name "c.txt". Entries directly below the root have Path "".
type DirectoryEntry struct {
	FileId       string
	CollectionId string
	IsFileRef    bool
	Path         string
	Name         string
	LoadTag      string
}

func (e *DirectoryEntry) FullPath() string {
	return JoinPath(e.Path, e.Name)
}

func (e *DirectoryEntry) IsRoot() bool {
	return e.Path == "" && e.Name == ""
}

type Checksums struct {
	Crc32c string `json:"crc32c,omitempty"`
	Md5    string `json:"md5,omitempty"`
}

// FileEntry holds the metadata of a fully ingested file. A file is visible only once its FileEntry exists.
type FileEntry struct {
	FileId          string
	CollectionId    string
	Checksums       Checksums
	Size            int64
	CreatedDate     time.Time
	StorageLocation string
	MimeType        string
	Description     string
	LoadTag         string
	FlightId        string
}

// Dependency counts the references a consumer collection holds on a file.
type Dependency struct {
	ConsumerCollectionId string
	FileId               string
	RefCount             int64
}

// Item is a node returned by ListChildren. Contents is only meaningful when Enumerated is set.
type Item struct {
	Entry      *DirectoryEntry
	File       *FileEntry
	Contents   []*Item
	Enumerated bool
}

func (i *Item) IsDirectory() bool {
	return !i.Entry.IsFileRef
}

// FileInfo describes the bytes of a copied file.
type FileInfo struct {
	Checksums       Checksums `json:"checksums"`
	Size            int64     `json:"size"`
	CreatedDate     time.Time `json:"createdDate"`
	StorageLocation string    `json:"storageLocation"`
}

// Info returns the byte level description of f.
func (f *FileEntry) Info() *FileInfo {
	return &FileInfo{
		Checksums:       f.Checksums,
		Size:            f.Size,
		CreatedDate:     f.CreatedDate,
		StorageLocation: f.StorageLocation,
	}
}

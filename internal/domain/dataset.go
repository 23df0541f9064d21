package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Subfolder names inside every dataset directory.
const (
	ImagesDir = "images"
	TextDir   = "text"
)

// CaptionExt is the extension of caption files.
const CaptionExt = ".txt"

// NoModification is displayed instead of a relative time when a dataset's
// captions have not been touched since it was created.
const NoModification = "-"

// FileKind selects one of the two dataset subfolders.
type FileKind string

const (
	KindImage   FileKind = ImagesDir
	KindCaption FileKind = TextDir
)

// Dir returns the subfolder name for the kind.
func (k FileKind) Dir() string {
	return string(k)
}

// DatasetInfo describes a dataset directory as seen by the store.
type DatasetInfo struct {
	Name      string
	CreatedAt time.Time
}

// FileEntry is a single file inside images/ or text/.
type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// DatasetMetadata is the derived, display-ready summary of a dataset.
type DatasetMetadata struct {
	Name       string    `json:"name"`
	Images     int       `json:"images"`
	Created    string    `json:"created"`
	Modified   string    `json:"modified"`
	ImageBytes int64     `json:"image_bytes"`
	Size       string    `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// CaptionPair is an image and the caption text stored for its stem.
type CaptionPair struct {
	ImageFilename string `json:"image_filename"`
	Caption       string `json:"caption"`
}

// Ext returns the final extension of filename. Leading dots do not start
// an extension, so ".hidden" and "..cfg" have none.
func Ext(filename string) string {
	ext := path.Ext(filename)
	if strings.Trim(strings.TrimSuffix(filename, ext), ".") == "" {
		return ""
	}
	return ext
}

// Stem returns the filename without its final extension.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, Ext(filename))
}

// CaptionFilename returns the caption file paired with an image filename.
func CaptionFilename(imageFilename string) string {
	return Stem(imageFilename) + CaptionExt
}

// IsCaptionFile reports whether a file belongs in text/.
// The match is on the exact extension, so "notes.txtx" is not a caption.
func IsCaptionFile(filename string) bool {
	return strings.EqualFold(Ext(filename), CaptionExt)
}

// ClassifyFile returns the subfolder a flat archive entry is moved into.
func ClassifyFile(filename string) FileKind {
	if IsCaptionFile(filename) {
		return KindCaption
	}
	return KindImage
}

// ValidName reports whether s can be used as a single path element:
// a dataset name or a file name inside a dataset subfolder.
func ValidName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}

// CandidateName returns the n-th name tried when importing under base.
// The first attempt is base itself, then "base (2)", "base (3)" and so on.
func CandidateName(base string, attempt int) string {
	if attempt <= 1 {
		return base
	}
	return fmt.Sprintf("%s (%d)", base, attempt)
}

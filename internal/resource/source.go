package resource

import (
	"path/filepath"
	"strings"
)

// SourceFile is the raw artifact a resource was parsed from.
type SourceFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// SourceFileMap holds source artifacts keyed by their location relative to
// the resource.
type SourceFileMap map[string]SourceFile

// Clone returns a deep copy. A nil map stays nil.
func (m SourceFileMap) Clone() SourceFileMap {
	if m == nil {
		return nil
	}
	out := make(SourceFileMap, len(m))
	for k, f := range m {
		f.Data = append([]byte(nil), f.Data...)
		out[k] = f
	}
	return out
}

// Size returns the total number of artifact bytes.
func (m SourceFileMap) Size() int {
	total := 0
	for _, f := range m {
		total += len(f.Data)
	}
	return total
}

var knownExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".docx": true, ".doc": true,
	".html": true, ".htm": true, ".csv": true, ".json": true, ".epub": true,
	".xlsx": true, ".pptx": true,
}

// CleanName strips a trailing known document extension from a file name, so
// "intro.pdf" is stored as "intro".
func CleanName(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name || !knownExtensions[strings.ToLower(ext)] {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

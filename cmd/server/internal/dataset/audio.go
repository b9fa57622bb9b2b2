package dataset

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// AudioExtensions lists the formats accepted as raw input.
var AudioExtensions = []string{".wav", ".mp3", ".flac"}

// IsAudioFile reports whether name has a supported audio extension.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range AudioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListAudios walks root recursively and returns every supported audio file, sorted.
func ListAudios(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAudioFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

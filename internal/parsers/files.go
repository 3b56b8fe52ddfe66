package parsers

import (
	"path/filepath"
	"strings"

	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/afero"
)

// ListFiles returns the regular files in dir whose extension matches ext
// case-insensitively, sorted by name
func ListFiles(fs afero.Fs, dir, ext string) ([]string, error) {
	info, err := fs.Stat(dir)
	if err != nil {
		return nil, classifyFileError(dir, err).
			WithSuggestion("Check that the folder exists and is readable")
	}
	if !info.IsDir() {
		return nil, errors.FileError(errors.CodeDirectoryError, dir, nil).
			WithSuggestion("Pass a folder, not a file")
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, classifyFileError(dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// BaseName returns the file name without directory and extension
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

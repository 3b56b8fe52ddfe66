// Package locator resolves matched receipt identifiers to receipt images.
//
// A receipt identifier is the extension-free base name shared by the
// receipt JSON document and its source image. The locator probes an image
// folder for that base name with each configured extension in order and
// returns the first file that exists. A missing image is never an error.
package locator

import (
	"path/filepath"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// DefaultExtensions is the probing order for receipt images
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Locator finds receipt images in a filesystem
type Locator struct {
	fs         afero.Fs
	extensions []string
	logger     logger.Logger
}

// New creates a Locator over fs. Without extensions DefaultExtensions is
// used. Extensions are normalized to start with a dot.
func New(fs afero.Fs, extensions ...string) *Locator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}

	return &Locator{
		fs:         fs,
		extensions: normalized,
		logger:     logger.GetGlobalLogger().WithComponent("locator"),
	}
}

// Extensions returns the probing order
func (l *Locator) Extensions() []string {
	return append([]string(nil), l.extensions...)
}

// ResolveImage returns the path of the first dir/receiptID+ext that exists
// as a regular file
func (l *Locator) ResolveImage(dir, receiptID string) (string, bool) {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" || strings.ContainsAny(receiptID, `/\`) {
		return "", false
	}

	for _, ext := range l.extensions {
		path := filepath.Join(dir, receiptID+ext)
		info, err := l.fs.Stat(path)
		if err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Annotate returns copies of results with ImagePath set where an image
// resolves. Rows without an image are kept unchanged. The second return
// value counts resolved rows.
func (l *Locator) Annotate(results []*models.MatchResult, dir string) ([]*models.MatchResult, int) {
	annotated := make([]*models.MatchResult, 0, len(results))
	resolved := 0

	for _, result := range results {
		path, ok := l.ResolveImage(dir, result.ReceiptID)
		if !ok {
			annotated = append(annotated, result.WithImagePath(""))
			continue
		}
		annotated = append(annotated, result.WithImagePath(path))
		resolved++
	}

	l.logger.WithFields(logger.Fields{
		"image_dir": dir,
		"rows":      len(results),
		"resolved":  resolved,
	}).Debug("Annotated results with receipt images")

	return annotated, resolved
}

// Search re-resolves images for an existing result table. Only rows whose
// image resolves are returned, as annotated copies.
func (l *Locator) Search(rows []*models.MatchResult, dir string) []*models.MatchResult {
	var found []*models.MatchResult
	for _, row := range rows {
		if path, ok := l.ResolveImage(dir, row.ReceiptID); ok {
			found = append(found, row.WithImagePath(path))
		}
	}

	l.logger.WithFields(logger.Fields{
		"image_dir": dir,
		"rows":      len(rows),
		"found":     len(found),
	}).Debug("Searched receipt images")

	return found
}

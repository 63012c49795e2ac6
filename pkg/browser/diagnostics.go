package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Screenshotter writes page screenshots for post-mortem inspection.
type Screenshotter struct {
	Dir string
}

// NewScreenshotter creates a screenshotter writing into dir.
func NewScreenshotter(dir string) *Screenshotter {
	return &Screenshotter{Dir: dir}
}

// Capture saves a full-page screenshot and returns its path.
func (s *Screenshotter) Capture(page Page, label string) (string, error) {
	if s == nil || s.Dir == "" {
		return "", nil
	}
	data, err := page.Screenshot(true)
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return s.Save(label, data)
}

// Save writes already captured image bytes.
func (s *Screenshotter) Save(label string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.png",
		unsafeLabel.ReplaceAllString(label, "_"),
		time.Now().UTC().Format("20060102T150405"),
		uuid.New().String()[:8])
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/afero"
)

const maxTitleLength = 100

// artifactDir is a freshly created per-job output directory. Abs is used
// when invoking the extraction tool, Rel (relative to the output root) is
// what gets persisted on artifact results and served by the files endpoint.
type artifactDir struct {
	Abs string
	Rel string
}

// outputManager owns the structured output tree rooted at rootDir:
// download/<YYYY-MM-DD>/<sanitized-title>/. All file system access goes
// through the afero.Fs provided at construction.
type outputManager struct {
	fs      afero.Fs
	rootDir string
}

func newOutputManager(fs afero.Fs, rootDir string) *outputManager {
	return &outputManager{fs: fs, rootDir: rootDir}
}

// CreateArtifactDir creates a new directory for the title provided under
// today's dated directory. When a directory for the sanitized title already
// exists a numeric suffix (-2, -3, ...) is appended until creation succeeds.
// Mkdir either creates or reports existence atomically, so two workers
// racing on the same title cannot claim the same directory.
func (manager *outputManager) CreateArtifactDir(title string, now time.Time) (*artifactDir, error) {
	datedDir := filepath.Join("download", now.Format(time.DateOnly))
	if err := manager.fs.MkdirAll(filepath.Join(manager.rootDir, datedDir), os.ModeDir|os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create dated output dir: %w", err)
	}

	base := SanitizeTitle(title)
	for attempt := 1; ; attempt++ {
		candidate := base
		if attempt > 1 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}

		rel := filepath.Join(datedDir, candidate)
		abs := filepath.Join(manager.rootDir, rel)
		err := manager.fs.Mkdir(abs, os.ModeDir|os.ModePerm)
		if err == nil {
			return &artifactDir{Abs: abs, Rel: rel}, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create output dir '%s': %w", abs, err)
		}
	}
}

// Relativize converts an absolute path inside the output tree to the
// root-relative form stored on artifact results.
func (manager *outputManager) Relativize(absPath string) string {
	rel, err := filepath.Rel(manager.rootDir, absPath)
	if err != nil {
		return absPath
	}

	return rel
}

// SanitizeTitle reduces a media title to a file-system-safe directory name:
// only letters, digits, spaces, hyphens and underscores survive, capped at
// 100 runes. A title with nothing left after filtering becomes 'unknown'.
func SanitizeTitle(title string) string {
	var builder strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			builder.WriteRune(r)
		}
	}

	sanitized := strings.TrimSpace(builder.String())
	if runes := []rune(sanitized); len(runes) > maxTitleLength {
		sanitized = strings.TrimSpace(string(runes[:maxTitleLength]))
	}

	if sanitized == "" {
		return "unknown"
	}

	return sanitized
}

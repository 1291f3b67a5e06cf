package downloader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SanitizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		summary  string
		title    string
		expected string
	}{
		{"plain title unchanged", "My Holiday Video", "My Holiday Video"},
		{"illegal characters stripped", `What?! A "Video": Part 1/2`, "What A Video Part 12"},
		{"hyphens and underscores kept", "some_video - part-2", "some_video - part-2"},
		{"unicode letters kept", "日本語のタイトル", "日本語のタイトル"},
		{"whitespace trimmed", "  padded out  ", "padded out"},
		{"empty becomes unknown", "", "unknown"},
		{"only illegal characters becomes unknown", `?!/\:*`, "unknown"},
		{"long title capped at 100 runes", strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.expected, SanitizeTitle(test.title))
		})
	}
}

func Test_CreateArtifactDir_DatedLayout(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	manager := newOutputManager(fs, "/out")

	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	dir, err := manager.CreateArtifactDir("My Video", now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("download", "2024-05-17", "My Video"), dir.Rel)
	assert.Equal(t, filepath.Join("/out", dir.Rel), dir.Abs)

	exists, err := afero.DirExists(fs, dir.Abs)
	require.NoError(t, err)
	assert.True(t, exists)
}

func Test_CreateArtifactDir_CollisionSuffixes(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	manager := newOutputManager(fs, "/out")
	now := time.Now()

	first, err := manager.CreateArtifactDir("Duplicate", now)
	require.NoError(t, err)
	second, err := manager.CreateArtifactDir("Duplicate", now)
	require.NoError(t, err)
	third, err := manager.CreateArtifactDir("Duplicate", now)
	require.NoError(t, err)

	assert.Equal(t, "Duplicate", filepath.Base(first.Abs))
	assert.Equal(t, "Duplicate-2", filepath.Base(second.Abs))
	assert.Equal(t, "Duplicate-3", filepath.Base(third.Abs))
}

func Test_CreateArtifactDir_ConcurrentClaims(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	manager := newOutputManager(fs, "/out")
	now := time.Now()

	const workers = 8
	claimed := make(chan string, workers)
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := manager.CreateArtifactDir("Contended Title", now)
			assert.NoError(t, err)
			claimed <- dir.Abs
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[string]bool)
	for path := range claimed {
		assert.False(t, seen[path], fmt.Sprintf("directory %s claimed by more than one worker", path))
		seen[path] = true
	}
	assert.Len(t, seen, workers)
}

func Test_Relativize(t *testing.T) {
	t.Parallel()

	manager := newOutputManager(afero.NewMemMapFs(), "/out")
	assert.Equal(t, filepath.Join("download", "2024-05-17", "A", "video.mp4"), manager.Relativize("/out/download/2024-05-17/A/video.mp4"))
}

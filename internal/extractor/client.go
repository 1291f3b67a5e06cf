package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/riptide-app/riptide/pkg/logger"
)

var log = logger.Get("Extractor")

const (
	// videoFormatSelector prefers an mp4 video+m4a audio mux, falling back
	// to whatever single best format the platform offers.
	videoFormatSelector = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	audioFormatSelector = "bestaudio/best"
)

type (
	Config struct {
		// Path to the yt-dlp binary. Defaults to resolution via $PATH.
		BinPath string `yaml:"bin_path" env:"YTDLP_BIN_PATH" env-default:"yt-dlp"`

		// Per-invocation ceiling. Each artifact download and each metadata
		// fetch is bounded independently by this duration.
		CommandTimeout time.Duration `yaml:"command_timeout" env:"YTDLP_COMMAND_TIMEOUT" env-default:"10m"`
	}

	Format struct {
		ID         string `json:"format_id"`
		Ext        string `json:"ext"`
		Resolution string `json:"resolution"`
		Note       string `json:"format_note"`
	}

	// Metadata is the normalized subset of the extraction tools JSON dump
	// which Riptide exposes through the info endpoint and relies on for
	// output naming and subtitle selection.
	Metadata struct {
		Title        string   `json:"title"`
		Duration     float64  `json:"duration"`
		Uploader     string   `json:"uploader"`
		WebpageURL   string   `json:"webpage_url"`
		Thumbnail    string   `json:"thumbnail"`
		Formats      []Format `json:"formats"`
		Subtitles    []string `json:"subtitles"`
		AutoCaptions []string `json:"automatic_captions"`
	}

	// Client is the boundary to the external media-extraction tool. All
	// methods block until the tool finishes (or the context expires) and
	// return either their result or a typed *Error.
	Client interface {
		FetchMetadata(ctx context.Context, url string) (*Metadata, error)
		DownloadVideo(ctx context.Context, url string, destDir string) (string, error)
		DownloadAudio(ctx context.Context, url string, destDir string) (string, error)
		DownloadSubtitles(ctx context.Context, url string, langs []string, destDir string) ([]string, error)
	}

	ytDlpClient struct {
		config Config
	}

	// rawMetadata mirrors the shape of the tools --dump-json output where
	// it differs from our normalized Metadata (subtitles arrive as maps
	// keyed by language code).
	rawMetadata struct {
		Title        string                     `json:"title"`
		Duration     float64                    `json:"duration"`
		Uploader     string                     `json:"uploader"`
		WebpageURL   string                     `json:"webpage_url"`
		Thumbnail    string                     `json:"thumbnail"`
		Formats      []Format                   `json:"formats"`
		Subtitles    map[string]json.RawMessage `json:"subtitles"`
		AutoCaptions map[string]json.RawMessage `json:"automatic_captions"`
	}
)

func NewClient(config Config) *ytDlpClient {
	return &ytDlpClient{config: config}
}

// FetchMetadata asks the extraction tool for the media information of the
// URL provided, without downloading anything.
func (client *ytDlpClient) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	stdout, err := client.run(ctx, "--dump-json", "--no-warnings", "--skip-download", url)
	if err != nil {
		return nil, err
	}

	var raw rawMetadata
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, &Error{Kind: EXTRACTION, Detail: fmt.Sprintf("malformed metadata payload: %s", err)}
	}

	return &Metadata{
		Title:        raw.Title,
		Duration:     raw.Duration,
		Uploader:     raw.Uploader,
		WebpageURL:   raw.WebpageURL,
		Thumbnail:    raw.Thumbnail,
		Formats:      raw.Formats,
		Subtitles:    sortedKeys(raw.Subtitles),
		AutoCaptions: sortedKeys(raw.AutoCaptions),
	}, nil
}

// DownloadVideo fetches the best available video for the URL in to destDir
// as 'video.<ext>' and returns the path of the produced file.
func (client *ytDlpClient) DownloadVideo(ctx context.Context, url string, destDir string) (string, error) {
	outTemplate := filepath.Join(destDir, "video.%(ext)s")
	_, err := client.run(ctx,
		"-f", videoFormatSelector,
		"--remux-video", "mp4",
		"--no-warnings",
		"-o", outTemplate,
		url)
	if err != nil {
		return "", err
	}

	return client.findProducedFile(destDir, "video.")
}

// DownloadAudio fetches the best available audio-only stream for the URL
// in to destDir as 'audio.<ext>' and returns the path of the produced file.
// No transcoding is performed here; converting the container to the final
// delivery format is the callers concern.
func (client *ytDlpClient) DownloadAudio(ctx context.Context, url string, destDir string) (string, error) {
	outTemplate := filepath.Join(destDir, "audio.%(ext)s")
	_, err := client.run(ctx,
		"-f", audioFormatSelector,
		"--no-warnings",
		"-o", outTemplate,
		url)
	if err != nil {
		return "", err
	}

	return client.findProducedFile(destDir, "audio.")
}

// DownloadSubtitles fetches subtitles (authored and auto-generated) for the
// URL in VTT format. An empty langs slice requests every available language.
// The tool writes 'sub.<lang>.vtt' files which are renamed to the output
// contracts 'sub-<lang>.vtt' before the paths are returned.
func (client *ytDlpClient) DownloadSubtitles(ctx context.Context, url string, langs []string, destDir string) ([]string, error) {
	langSelector := "all"
	if len(langs) > 0 {
		langSelector = strings.Join(langs, ",")
	}

	outTemplate := filepath.Join(destDir, "sub.%(ext)s")
	_, err := client.run(ctx,
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-format", "vtt",
		"--sub-langs", langSelector,
		"--no-warnings",
		"-o", outTemplate,
		url)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, &Error{Kind: EXTRACTION, Detail: fmt.Sprintf("failed to inspect output dir: %s", err)}
	}

	produced := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "sub.") || !strings.HasSuffix(name, ".vtt") {
			continue
		}

		lang := strings.TrimSuffix(strings.TrimPrefix(name, "sub."), ".vtt")
		renamed := filepath.Join(destDir, fmt.Sprintf("sub-%s.vtt", lang))
		if err := os.Rename(filepath.Join(destDir, name), renamed); err != nil {
			return nil, &Error{Kind: EXTRACTION, Detail: fmt.Sprintf("failed to rename subtitle file %s: %s", name, err)}
		}

		produced = append(produced, renamed)
	}

	if len(produced) == 0 {
		return nil, &Error{Kind: EXTRACTION, Detail: "no subtitles available for requested languages"}
	}

	return produced, nil
}

// run executes the extraction binary with the args provided, bounded by the
// configured command timeout. A non-zero exit is classified in to a typed
// *Error using the commands stderr.
func (client *ytDlpClient) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, client.config.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, client.config.BinPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Emit(logger.VERBOSE, "Executing %s %s\n", client.config.BinPath, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: NETWORK, Detail: "extraction command timed out"}
		}

		failure := classifyFailure(stderr.String(), err)
		log.Emit(logger.ERROR, "Extraction command failed (%s): %s\n", failure.Kind, failure.Detail)
		return nil, failure
	}

	return stdout.Bytes(), nil
}

// findProducedFile locates the single file matching the prefix provided in
// destDir. The output template given to the tool fixes the stem, however the
// extension is only known once the download completes.
func (client *ytDlpClient) findProducedFile(destDir string, prefix string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", &Error{Kind: EXTRACTION, Detail: fmt.Sprintf("failed to inspect output dir: %s", err)}
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}

	return "", &Error{Kind: EXTRACTION, Detail: fmt.Sprintf("tool exited cleanly but produced no '%s*' file", prefix)}
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	// Deterministic ordering keeps the info endpoint stable for clients.
	sort.Strings(keys)
	return keys
}

package extractor

import (
	"fmt"
	"strings"
)

type FailureKind int

const (
	// UNSUPPORTED_URL indicates the extraction tool does not know how to
	// handle the URL provided (no extractor matched, or the URL is garbage).
	UNSUPPORTED_URL FailureKind = iota

	// NETWORK covers failures reaching the remote platform, including
	// command timeouts.
	NETWORK

	// EXTRACTION is the catch-all for failures reported by the tool once
	// it had successfully matched the URL (geo blocks, removed media,
	// format unavailability, et cetera).
	EXTRACTION
)

func (kind FailureKind) String() string {
	switch kind {
	case UNSUPPORTED_URL:
		return "UNSUPPORTED_URL"
	case NETWORK:
		return "NETWORK"
	case EXTRACTION:
		return "EXTRACTION"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", kind)
	}
}

// Error is the typed failure returned by the extraction client. The Kind
// allows callers to branch (e.g. the API maps UNSUPPORTED_URL to a client
// error), while Detail carries the human-readable tail of the tools stderr.
type Error struct {
	Kind   FailureKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Detail)
}

// classifyFailure inspects the stderr emitted by yt-dlp and buckets the
// failure in to a FailureKind. yt-dlp prefixes fatal output with 'ERROR:',
// so the last such line is used as the detail when present.
func classifyFailure(stderr string, runErr error) *Error {
	detail := lastErrorLine(stderr)
	if detail == "" {
		detail = runErr.Error()
	}

	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "unsupported url"),
		strings.Contains(lowered, "is not a valid url"):
		return &Error{Kind: UNSUPPORTED_URL, Detail: detail}
	case strings.Contains(lowered, "unable to download webpage"),
		strings.Contains(lowered, "timed out"),
		strings.Contains(lowered, "temporary failure in name resolution"),
		strings.Contains(lowered, "connection re"):
		return &Error{Kind: NETWORK, Detail: detail}
	default:
		return &Error{Kind: EXTRACTION, Detail: detail}
	}
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(lines[i], "ERROR:"))
		}
	}

	return ""
}

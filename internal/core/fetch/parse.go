package fetch

import (
	"strconv"
	"strings"

	"github.com/alzaio/anyvideodownload/internal/core/job"
)

// progressTemplate makes yt-dlp emit machine-readable byte counts, one line
// per update. Fields render as "NA" when the extractor does not know them.
const progressTemplate = "download:avd:%(progress.downloaded_bytes)s:%(progress.total_bytes)s:%(progress.total_bytes_estimate)s"

const progressPrefix = "avd:"

// parseProgressLine parses a line produced by progressTemplate.
// total falls back to the extractor's estimate when the exact size is unknown.
func parseProgressLine(line string) (done, total int64, ok bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return 0, 0, false
	}
	fields := strings.Split(strings.TrimPrefix(line, progressPrefix), ":")
	if len(fields) != 3 {
		return 0, 0, false
	}
	done = parseByteField(fields[0])
	total = parseByteField(fields[1])
	if total == 0 {
		total = parseByteField(fields[2])
	}
	return done, total, true
}

func parseByteField(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f)
}

// accumulator folds per-file progress into a running total. The extraction
// tool resets its downloaded counter for each stream it fetches (video,
// then audio); the size ceiling applies to the cumulative count.
type accumulator struct {
	base     int64 // bytes from finished streams
	current  int64 // downloaded bytes of the stream in flight
	curTotal int64
}

// update ingests a raw progress sample and returns cumulative counts.
func (a *accumulator) update(done, total int64) (cumDone, cumTotal int64) {
	if done < a.current {
		// Counter went backwards: a new stream started.
		a.base += a.current
		a.curTotal = 0
	}
	a.current = done
	if total > 0 {
		a.curTotal = total
	}
	cumDone = a.base + a.current
	if a.curTotal > 0 {
		cumTotal = a.base + a.curTotal
	}
	return cumDone, cumTotal
}

// normalizeError maps an extraction tool error message onto the pipeline's
// error taxonomy. The tool's message dialect is treated as opaque text;
// anything unrecognized becomes ErrUnknown.
func normalizeError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "is not a valid url"),
		strings.Contains(lower, "no video could be found"):
		return job.ErrInvalidSource
	case strings.Contains(lower, "geo restriction"),
		strings.Contains(lower, "geo-restricted"),
		strings.Contains(lower, "available in your country"),
		strings.Contains(lower, "not available from your location"):
		return job.ErrGeoRestricted
	case strings.Contains(lower, "live event"),
		strings.Contains(lower, "live stream"),
		strings.Contains(lower, "is live"):
		return job.ErrLiveUnsupported
	default:
		return job.ErrUnknown
	}
}

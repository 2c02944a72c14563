package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageFetchStart Stage = "FETCH_START"
	StageProbe      Stage = "PROBE"
	StageRetry      Stage = "RETRY"
	StageSkip       Stage = "SKIP"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageURLFound   Stage = "URL_FOUND"
	StageObserved   Stage = "OBSERVED"
	StagePersist    Stage = "PERSIST"
)

// Level is the severity attached to an Event.
type Level string

// Supported levels, matching the labels shown to operators.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Color hints understood by renderers that can colorize output.
const (
	ColorGray   = "gray"
	ColorGreen  = "green"
	ColorOrange = "orange"
	ColorRed    = "red"
	ColorPurple = "purple"
)

// Event captures a single piece of crawl activity.
type Event struct {
	// CrawlID identifies the crawl run the event belongs to.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Level is the event severity.
	Level Level
	// Message is the human readable text.
	Message string
	// WorkerID is the 1-based worker number, or 0 when not emitted by a worker.
	WorkerID int
	// Label optionally names the component or method that emitted the event.
	Label string
	// Color is an optional rendering hint; empty means "derive from Level".
	Color string
	// URL is the page the event refers to, if any.
	URL string
	// Bytes carries the response size for fetch completions.
	Bytes int64
	// Dur captures latency for fetches and crawl completions.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StagePersist:
	case StageFetchStart, StageProbe, StageRetry, StageSkip,
		StageFetchDone, StageFetchError, StageURLFound, StageObserved:
		if e.URL == "" {
			return fmt.Errorf("stage %s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Level {
	case LevelInfo, LevelWarning, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	if e.WorkerID < 0 {
		return errors.New("worker id must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ColorHint returns the explicit color or the default for the event level.
func (e Event) ColorHint() string {
	if e.Color != "" {
		return e.Color
	}
	switch e.Level {
	case LevelWarning:
		return ColorOrange
	case LevelError:
		return ColorRed
	default:
		return ColorGray
	}
}

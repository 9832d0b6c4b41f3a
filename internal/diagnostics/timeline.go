package diagnostics

import (
	"sort"
	"time"

	"github.com/memento-core/daemon/pkg/types"
)

// TimelineKind tags where a TimelineEvent originated so a UI can render
// them differently without re-deriving the source.
type TimelineKind string

const (
	TimelineHistory TimelineKind = "history"
	TimelineJob     TimelineKind = "job"
	TimelineLog     TimelineKind = "log"
	TimelineError   TimelineKind = "error"
)

// TimelineEvent is one entry in the merged, time-sorted activity feed
// spec.md §4.7 describes: memory history, job lifecycle transitions,
// recent log lines, and recent errors interleaved by timestamp.
type TimelineEvent struct {
	Time    time.Time    `json:"time"`
	Kind    TimelineKind `json:"kind"`
	Summary string       `json:"summary"`
	Detail  string       `json:"detail,omitempty"`
}

// LogLine is a minimal structured log record a caller can feed into
// BuildTimeline alongside history/job/error data.
type LogLine struct {
	Time    time.Time
	Message string
}

// BuildTimeline merges the four event sources into one descending
// (newest-first) sequence, truncated to limit entries.
func BuildTimeline(history []types.HistoryEntry, jobs []types.Job, logs []LogLine, errs []ErrorEvent, limit int) []TimelineEvent {
	events := make([]TimelineEvent, 0, len(history)+len(jobs)*2+len(logs)+len(errs))

	for _, h := range history {
		events = append(events, TimelineEvent{
			Time:    h.CreatedAt,
			Kind:    TimelineHistory,
			Summary: string(h.Event) + " " + h.MemoryID,
			Detail:  h.Reason,
		})
	}

	for _, j := range jobs {
		events = append(events, jobTimelineEvents(j)...)
	}

	for _, l := range logs {
		events = append(events, TimelineEvent{Time: l.Time, Kind: TimelineLog, Summary: l.Message})
	}

	for _, e := range errs {
		events = append(events, TimelineEvent{Time: e.Time, Kind: TimelineError, Summary: string(e.Stage), Detail: e.Message})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Time.After(events[j].Time) })

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// BuildTimelineForID implements spec.md §4.7's id-scoped timeline: given
// a memory id, collect and merge in chronological order the matching
// history rows, the lifecycle events of jobs addressing that memory, log
// lines that mention the id, and error-ring entries whose
// memoryId/requestId matches — then return them oldest-first, the
// opposite order of BuildTimeline's general newest-first feed, since a
// per-memory timeline reads naturally as a history.
func BuildTimelineForID(id string, history []types.HistoryEntry, jobs []types.Job, logs []LogLine, errs []ErrorEvent) []TimelineEvent {
	var matchedHistory []types.HistoryEntry
	for _, h := range history {
		if h.MemoryID == id {
			matchedHistory = append(matchedHistory, h)
		}
	}
	var matchedJobs []types.Job
	for _, j := range jobs {
		if j.MemoryID == id {
			matchedJobs = append(matchedJobs, j)
		}
	}
	var matchedLogs []LogLine
	for _, l := range logs {
		if containsID(l.Message, id) {
			matchedLogs = append(matchedLogs, l)
		}
	}
	var matchedErrs []ErrorEvent
	for _, e := range errs {
		if e.RequestID == id || e.MemoryID == id {
			matchedErrs = append(matchedErrs, e)
		}
	}

	events := BuildTimeline(matchedHistory, matchedJobs, matchedLogs, matchedErrs, 0)
	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events
}

func containsID(haystack, id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i+len(id) <= len(haystack); i++ {
		if haystack[i:i+len(id)] == id {
			return true
		}
	}
	return false
}

// jobTimelineEvents expands one job row into its lifecycle transitions:
// created, and whichever of leased/completed/failed applies.
func jobTimelineEvents(j types.Job) []TimelineEvent {
	out := []TimelineEvent{{
		Time:    j.CreatedAt,
		Kind:    TimelineJob,
		Summary: string(j.JobType) + " enqueued",
		Detail:  j.ID,
	}}
	if j.LeasedAt != nil {
		out = append(out, TimelineEvent{
			Time:    *j.LeasedAt,
			Kind:    TimelineJob,
			Summary: string(j.JobType) + " leased by " + j.LeasedBy,
			Detail:  j.ID,
		})
	}
	if j.CompletedAt != nil {
		out = append(out, TimelineEvent{
			Time:    *j.CompletedAt,
			Kind:    TimelineJob,
			Summary: string(j.JobType) + " completed",
			Detail:  j.ID,
		})
	}
	if j.FailedAt != nil {
		out = append(out, TimelineEvent{
			Time:    *j.FailedAt,
			Kind:    TimelineJob,
			Summary: string(j.JobType) + " failed",
			Detail:  j.Error,
		})
	}
	return out
}

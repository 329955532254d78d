package tm

import (
	"time"

	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/segment"
)

// Status is the lifecycle state of a translation job.
type Status string

const (
	StatusCreated Status = "created"
	StatusReq     Status = "req"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusBlocked
}

// Unit is one translation unit: a source segment plus, once translated,
// its target and provenance metadata. Multiple rows may exist for one
// guid (one per job that ever produced a value); MoreAuthoritative
// decides which one wins at read time.
type Unit struct {
	GUID    string            `json:"guid"`
	JobGUID string            `json:"jobGuid,omitempty"`
	RID     string            `json:"rid,omitempty"`
	SID     string            `json:"sid,omitempty"`
	Source  segment.Text      `json:"nsrc,omitempty"`
	Target  segment.Text      `json:"ntgt,omitempty"`
	Quality int               `json:"q"`
	TS      int64             `json:"ts"`
	Notes   string            `json:"notes,omitempty"`
	Props   map[string]string `json:"props,omitempty"`
}

// InFlight reports whether the row is an outstanding request placeholder
// rather than a real translation.
func (u Unit) InFlight() bool {
	return u.Quality == 0
}

// JobRequest is a unit of work for one provider and one language pair.
type JobRequest struct {
	JobGUID    string       `json:"jobGuid"`
	SourceLang language.Tag `json:"sourceLang"`
	TargetLang language.Tag `json:"targetLang"`
	Provider   string       `json:"translationProvider"`
	Units      []Unit       `json:"tus"`
}

// JobResponse is what a provider returns for a request. A pending
// response carries InFlight guids; a done response carries scored Units.
// The two sides are linked by guid only, never by object identity.
type JobResponse struct {
	JobGUID  string   `json:"jobGuid"`
	Provider string   `json:"translationProvider"`
	Status   Status   `json:"status"`
	Units    []Unit   `json:"tus,omitempty"`
	InFlight []string `json:"inflight,omitempty"`
	TS       int64    `json:"ts,omitempty"`
}

// Job is a registry row: job metadata independent of unit content.
type Job struct {
	JobGUID   string
	Status    Status
	Provider  string
	UpdatedAt time.Time
}

// StatsRow is one aggregate bucket of GetStats.
type StatsRow struct {
	Provider string
	Status   Status
	Units    int
}

// LeafCheckpoint is a persisted leaf result of a task graph, keyed by
// task name and leaf position. It is what makes a task resumable after
// a process restart.
type LeafCheckpoint struct {
	TaskName  string
	LeafIndex int
	Op        string
	Result    []byte
	UpdatedAt time.Time
}

package domain

// Participant is one institution's identity on a broker connection. Refreshed
// from the broker's membership list each pass; configuration flags are merged
// in from the local settings file and never written back.
type Participant struct {
	MID    int
	Name   string
	Org    string
	Domain string
	Email  string
	ItsYou bool

	// Local configuration, not broker state.
	Import        bool
	Export        bool
	IsCMS         bool
	IdentityField string // local user field used when resolving this participant's person ids
}

// Community is a named group of participants sharing visibility on the broker.
type Community struct {
	ID           int
	Name         string
	Participants []Participant
}

// EventStatus is the change kind reported by the broker event feed.
type EventStatus string

const (
	EventCreated   EventStatus = "created"
	EventUpdated   EventStatus = "updated"
	EventDestroyed EventStatus = "destroyed"
)

// Event is one queued change notification. Stored locally until the matching
// handler succeeds; FailCount tracks handler errors across passes.
type Event struct {
	ID         int64
	ServerID   int
	ResourceID int
	Type       ResourceType
	Status     EventStatus
	FailCount  int
	Abandoned  bool
}

// TreeMode is the mapping state of an imported directory tree. Transitions
// only ever move forward: PENDING to WHOLE or MANUAL, and any state to
// DELETED.
type TreeMode int

const (
	TreePending TreeMode = iota
	TreeWhole
	TreeManual
	TreeDeleted
)

func (m TreeMode) String() string {
	switch m {
	case TreePending:
		return "pending"
	case TreeWhole:
		return "whole"
	case TreeManual:
		return "manual"
	case TreeDeleted:
		return "deleted"
	}
	return "unknown"
}

// DirectoryTree is the header of one imported directory hierarchy.
type DirectoryTree struct {
	RootID     string
	ServerID   int
	ResourceID int
	Title      string
	Mode       TreeMode
	CategoryID int64 // mapped local category under WHOLE mode, 0 otherwise

	// Takeover flags gate pushing remote edits into the mapped categories.
	TakeoverTitle      bool
	TakeoverPosition   bool
	TakeoverAllocation bool
}

// Directory is one node of a directory tree. Deletions are soft so stale
// course allocations stay resolvable.
type Directory struct {
	ID         string
	RootID     string
	ParentID   string // empty for top-level nodes
	Title      string
	Order      int
	CategoryID int64 // mapped local category, 0 when unmapped
	Deleted    bool
}

// CourseRecord is the header row for one imported course resource.
type CourseRecord struct {
	ResourceID  int
	ServerID    int
	CMSCourseID string
	Scenario    Scenario
	Title       string
}

// LocalCourse maps one slice of an imported course resource onto a local
// course. Exactly one row per (allocation, group unit); GroupIndex is -1 when
// the scenario does not split on groups.
type LocalCourse struct {
	ID          int64
	ResourceID  int
	CMSCourseID string
	LocalID     int64 // platform course id
	Real        bool
	DirectoryID string
	GroupIndex  int
	Order       int
}

// ParallelGroup records one remote group unit attached to a local course.
// LocalGroupID is set only under the separate-groups scenario.
type ParallelGroup struct {
	LocalCourseID int64
	GroupIndex    int
	Title         string
	LocalGroupID  int64
}

// MemberRecord is the cached membership state for one person in one remote
// course, used to diff incoming member lists against what was last applied.
type MemberRecord struct {
	CMSCourseID  string
	PersonID     string
	PersonIDType string
	Role         string
	GroupRoles   map[int]string // group index -> role in that group
}

// ExportStatus tracks what still has to happen on the broker for one
// (course, participant) export pair.
type ExportStatus string

const (
	ExportCreated  ExportStatus = "created"
	ExportUpdated  ExportStatus = "updated"
	ExportDeleted  ExportStatus = "deleted"
	ExportUpToDate ExportStatus = "uptodate"
)

// ExportRecord is one participant's inclusion in a local course's export set.
type ExportRecord struct {
	LocalID    int64
	MID        int
	Status     ExportStatus
	ResourceID int // broker course_link resource, 0 before first push
}

// CourseURLRecord is the local side of one published course_url resource.
type CourseURLRecord struct {
	ServerID    int
	CMSCourseID string
	ResourceID  int              // broker resource id, 0 before first publish
	URLs        map[int64]string // local course id -> public URL
}

package domain

import "encoding/json"

// ResourceType tags every object stored on the broker. The value doubles as
// the path segment under /campusconnect/ on the wire.
type ResourceType string

const (
	TypeCourse          ResourceType = "courses"
	TypeCourseMembers   ResourceType = "course_members"
	TypeDirectoryTree   ResourceType = "directory_trees"
	TypeEnrolmentStatus ResourceType = "member_status"
	TypeCourseURL       ResourceType = "course_urls"
	TypeCourseLink      ResourceType = "courselinks"
)

// Resource is implemented by every typed broker payload. The protocol client
// only ever sees this interface; per-type handling lives with the type itself.
type Resource interface {
	ResourceType() ResourceType
	MarshalPayload() ([]byte, error)
	UnmarshalPayload([]byte) error
}

// Scenario decides how a course's remote parallel groups map onto local
// courses/groups.
type Scenario int

const (
	ScenarioNone              Scenario = 0 // ignore groups, one course per allocation
	ScenarioSeparateGroups    Scenario = 1 // one course per allocation, remote groups become local groups
	ScenarioSeparateCourses   Scenario = 2 // one local course per (allocation, group)
	ScenarioSeparateLecturers Scenario = 3 // like separate courses, but groups sharing lecturers merge
)

// CourseResource is the broker "courses" payload sent by a CMS.
type CourseResource struct {
	LectureID     string             `json:"lectureID"`
	Title         string             `json:"title"`
	Organisation  string             `json:"organisation,omitempty"`
	LectureType   string             `json:"lectureType,omitempty"`
	Comment       string             `json:"comment,omitempty"`
	GroupScenario Scenario           `json:"groupScenario,omitempty"`
	Allocations   []CourseAllocation `json:"allocations,omitempty"`
	Groups        []CourseGroup      `json:"groups,omitempty"`
}

// CourseAllocation points a course at one node of a remote directory tree.
type CourseAllocation struct {
	ParentID string `json:"parentID"`
	Order    int    `json:"order,omitempty"`
}

// CourseGroup is one parallel group inside a course. The position in the
// Groups slice is the stable group index; titles and lecturers may change
// between updates.
type CourseGroup struct {
	Title           string     `json:"title,omitempty"`
	Lecturers       []Lecturer `json:"lecturers,omitempty"`
	MaxParticipants int        `json:"maxParticipants,omitempty"`
}

type Lecturer struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

func (*CourseResource) ResourceType() ResourceType      { return TypeCourse }
func (c *CourseResource) MarshalPayload() ([]byte, error) { return json.Marshal(c) }
func (c *CourseResource) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, c) }

// CourseMembers is the broker "course_members" payload. It is keyed to the
// same lectureID as the course resource it belongs to.
type CourseMembers struct {
	LectureID string   `json:"lectureID"`
	Members   []Member `json:"members"`
}

// Member is one person in a course members list. PersonIDType selects which
// local identity field the id resolves through; empty means the configured
// default type.
type Member struct {
	PersonID     string        `json:"personID"`
	PersonIDType string        `json:"personIDtype,omitempty"`
	Role         string        `json:"role,omitempty"`
	Groups       []MemberGroup `json:"groups,omitempty"`
}

// MemberGroup carries the member's role inside one parallel group, addressed
// by group index.
type MemberGroup struct {
	Num  int    `json:"num"`
	Role string `json:"role,omitempty"`
}

func (*CourseMembers) ResourceType() ResourceType      { return TypeCourseMembers }
func (m *CourseMembers) MarshalPayload() ([]byte, error) { return json.Marshal(m) }
func (m *CourseMembers) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, m) }

// DirectoryTreeResource is the broker "directory_trees" payload: a flat node
// list describing one rooted folder hierarchy on the CMS.
type DirectoryTreeResource struct {
	RootID    string          `json:"rootID"`
	Title     string          `json:"directoryTreeTitle"`
	Term      string          `json:"term,omitempty"`
	Directory []DirectoryNode `json:"directory"`
}

type DirectoryNode struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Order  int        `json:"order,omitempty"`
	Parent NodeParent `json:"parent"`
}

// NodeParent wraps the parent pointer; an empty ID marks a top-level node.
type NodeParent struct {
	ID string `json:"id,omitempty"`
}

func (*DirectoryTreeResource) ResourceType() ResourceType      { return TypeDirectoryTree }
func (d *DirectoryTreeResource) MarshalPayload() ([]byte, error) { return json.Marshal(d) }
func (d *DirectoryTreeResource) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, d) }

// CourseURLResource aggregates the public URLs of every real local course
// standing for one remote course. Published back to the owning CMS.
type CourseURLResource struct {
	CMSCourseID  string      `json:"cms_course_id"`
	ECSCourseURL string      `json:"ecs_course_url,omitempty"`
	URLs         []CourseURL `json:"urls"`
}

type CourseURL struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (*CourseURLResource) ResourceType() ResourceType      { return TypeCourseURL }
func (c *CourseURLResource) MarshalPayload() ([]byte, error) { return json.Marshal(c) }
func (c *CourseURLResource) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, c) }

// CourseLinkResource advertises one exported local course to one participant.
type CourseLinkResource struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Organization string `json:"organization,omitempty"`
	Lang         string `json:"lang,omitempty"`
}

func (*CourseLinkResource) ResourceType() ResourceType      { return TypeCourseLink }
func (c *CourseLinkResource) MarshalPayload() ([]byte, error) { return json.Marshal(c) }
func (c *CourseLinkResource) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, c) }

// EnrolmentStatusResource reports a person's enrolment state in an exported
// course back to the owning CMS.
type EnrolmentStatusResource struct {
	PersonID     string `json:"personID"`
	PersonIDType string `json:"personIDtype,omitempty"`
	CMSCourseID  string `json:"cms_course_id"`
	Status       string `json:"status"` // "active", "pending", "rejected", "unsubscribed"
}

func (*EnrolmentStatusResource) ResourceType() ResourceType      { return TypeEnrolmentStatus }
func (e *EnrolmentStatusResource) MarshalPayload() ([]byte, error) { return json.Marshal(e) }
func (e *EnrolmentStatusResource) UnmarshalPayload(b []byte) error { return json.Unmarshal(b, e) }

// NewResource returns an empty payload value for a resource type, for callers
// that only know the type tag from an event.
func NewResource(t ResourceType) (Resource, bool) {
	switch t {
	case TypeCourse:
		return &CourseResource{}, true
	case TypeCourseMembers:
		return &CourseMembers{}, true
	case TypeDirectoryTree:
		return &DirectoryTreeResource{}, true
	case TypeCourseURL:
		return &CourseURLResource{}, true
	case TypeCourseLink:
		return &CourseLinkResource{}, true
	case TypeEnrolmentStatus:
		return &EnrolmentStatusResource{}, true
	}
	return nil, false
}

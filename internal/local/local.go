// Package local is the narrow boundary to the host platform's course,
// category, user, group and enrolment primitives. The sync engine only ever
// talks to these interfaces; the host wires in its real backends.
package local

import "errors"

// ErrNotFound is returned for unknown ids across all stores.
var ErrNotFound = errors.New("local: not found")

// Course is the platform-side course record the engine manages.
type Course struct {
	ID         int64
	Fullname   string
	Shortname  string
	CategoryID int64
	Summary    string
	Visible    bool
	Archived   bool

	// RedirectTo points a link course at the real course it stands in
	// for; 0 on real courses.
	RedirectTo int64
}

type Courses interface {
	Create(c Course) (int64, error)
	Update(c Course) error
	Get(id int64) (Course, error)
	// Archive hides the course and detaches any redirect; the record stays.
	Archive(id int64) error
	// ViewURL is the public URL of the course's view page.
	ViewURL(id int64) string
}

// Category is one node of the platform's category tree.
type Category struct {
	ID       int64
	Name     string
	ParentID int64
	Order    int
}

type Categories interface {
	Create(name string, parentID int64) (int64, error)
	Update(c Category) error
	Get(id int64) (Category, error)
}

// Users resolves people by one identity field (username, email, idnumber).
type Users interface {
	// FindByField returns 0 when no user matches.
	FindByField(field, value string) (int64, error)
}

type Groups interface {
	// EnsureGroup creates the group if missing and returns its id either way.
	EnsureGroup(courseID int64, name string) (int64, error)
	RenameGroup(groupID int64, name string) error
	AddMember(groupID, userID int64) error
	RemoveMember(groupID, userID int64) error
	Members(groupID int64) ([]int64, error)
}

type Enrolments interface {
	// Enrol is idempotent; enrolling an enrolled user only updates the role.
	Enrol(courseID, userID int64, role string) error
	Unenrol(courseID, userID int64) error
	Enrolled(courseID int64) (map[int64]string, error) // user id -> role
	AssignRole(courseID, userID int64, role string) error
}

// Platform bundles the five stores a sync pass needs.
type Platform struct {
	Courses    Courses
	Categories Categories
	Users      Users
	Groups     Groups
	Enrolments Enrolments
}

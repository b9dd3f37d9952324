package local

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory Platform, used by tests and the demo commands.
type Memory struct {
	mu sync.Mutex

	nextID     int64
	courses    map[int64]Course
	categories map[int64]Category
	users      map[string]map[string]int64 // field -> value -> user id
	groups     map[int64]*memGroup
	enrols     map[int64]map[int64]string // course id -> user id -> role

	BaseURL string
}

type memGroup struct {
	ID       int64
	CourseID int64
	Name     string
	Members  map[int64]bool
}

func NewMemory() *Memory {
	return &Memory{
		nextID:     1000,
		courses:    map[int64]Course{},
		categories: map[int64]Category{},
		users:      map[string]map[string]int64{},
		groups:     map[int64]*memGroup{},
		enrols:     map[int64]map[int64]string{},
		BaseURL:    "https://campus.example",
	}
}

// Platform returns the Memory wired into the interface bundle. Categories
// get their own adapter because Courses.Create and Categories.Create cannot
// share a receiver.
func (m *Memory) Platform() Platform {
	return Platform{Courses: m, Categories: memoryCategories{m}, Users: m, Groups: m, Enrolments: m}
}

type memoryCategories struct{ m *Memory }

func (c memoryCategories) Create(name string, parentID int64) (int64, error) {
	return c.m.CreateCategory(name, parentID)
}
func (c memoryCategories) Update(cat Category) error      { return c.m.UpdateCategory(cat) }
func (c memoryCategories) Get(id int64) (Category, error) { return c.m.GetCategory(id) }

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// AddUser registers a user resolvable through one identity field.
func (m *Memory) AddUser(field, value string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users[field] == nil {
		m.users[field] = map[string]int64{}
	}
	m.users[field][value] = id
}

func (m *Memory) Create(c Course) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.courses[c.ID] = c
	return c.ID, nil
}

func (m *Memory) Update(c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[c.ID]; !ok {
		return fmt.Errorf("update course %d: %w", c.ID, ErrNotFound)
	}
	m.courses[c.ID] = c
	return nil
}

func (m *Memory) Get(id int64) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) Archive(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return fmt.Errorf("archive course %d: %w", id, ErrNotFound)
	}
	c.Archived = true
	c.Visible = false
	c.RedirectTo = 0
	m.courses[id] = c
	return nil
}

func (m *Memory) ViewURL(id int64) string {
	return fmt.Sprintf("%s/course/view.php?id=%d", m.BaseURL, id)
}

func (m *Memory) CreateCategory(name string, parentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.categories[id] = Category{ID: id, Name: name, ParentID: parentID}
	return id, nil
}

func (m *Memory) UpdateCategory(c Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		return fmt.Errorf("category %d: %w", c.ID, ErrNotFound)
	}
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) GetCategory(id int64) (Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) FindByField(field, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[field][value], nil
}

func (m *Memory) EnsureGroup(courseID int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.CourseID == courseID && g.Name == name {
			return g.ID, nil
		}
	}
	id := m.id()
	m.groups[id] = &memGroup{ID: id, CourseID: courseID, Name: name, Members: map[int64]bool{}}
	return id, nil
}

func (m *Memory) RenameGroup(groupID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	g.Name = name
	return nil
}

func (m *Memory) AddMember(groupID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	g.Members[userID] = true
	return nil
}

func (m *Memory) RemoveMember(groupID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	delete(g.Members, userID)
	return nil
}

func (m *Memory) Members(groupID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	out := make([]int64, 0, len(g.Members))
	for id := range g.Members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GroupsOf lists a course's group names, for assertions.
func (m *Memory) GroupsOf(courseID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, g := range m.groups {
		if g.CourseID == courseID {
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Memory) Enrol(courseID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrols[courseID] == nil {
		m.enrols[courseID] = map[int64]string{}
	}
	m.enrols[courseID][userID] = role
	return nil
}

func (m *Memory) Unenrol(courseID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enrols[courseID], userID)
	return nil
}

func (m *Memory) Enrolled(courseID int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]string, len(m.enrols[courseID]))
	for u, r := range m.enrols[courseID] {
		out[u] = r
	}
	return out, nil
}

func (m *Memory) AssignRole(courseID, userID int64, role string) error {
	return m.Enrol(courseID, userID, role)
}

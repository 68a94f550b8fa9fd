// Package roster defines the domain types shared by the orchestrator, the
// gateway adapters and the HTTP surface: user profiles, class groups, roles
// and the two external gateway contracts.
package roster

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by gateways when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Role is the role assigned to an account in the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid returns true for the roles the identity provider understands.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// Profile is a user record as held by the store, keyed by email.
type Profile struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	Role              Role       `json:"role"`
	EnrolledClassID   string     `json:"enrolled_class_id,omitempty"`
	TeachingClassIDs  []string   `json:"teaching_class_ids,omitempty"`
	AvailableModules  []string   `json:"available_modules,omitempty"`
	AccountExpiration *time.Time `json:"account_expiration_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ClassIDs returns every class the profile belongs to, enrolled or teaching.
func (p Profile) ClassIDs() []string {
	ids := slices.Clone(p.TeachingClassIDs)
	if p.EnrolledClassID != "" && !slices.Contains(ids, p.EnrolledClassID) {
		ids = append(ids, p.EnrolledClassID)
	}
	return ids
}

// Group is a class. Teachers and Students hold user IDs and behave as sets.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Teachers []string `json:"teachers"`
	Students []string `json:"students"`
}

// GroupUpdate describes set-based membership changes for a Group.
// Removals are applied after additions.
type GroupUpdate struct {
	AddTeachers    []string `json:"add_teachers,omitempty"`
	AddStudents    []string `json:"add_students,omitempty"`
	RemoveTeachers []string `json:"remove_teachers,omitempty"`
	RemoveStudents []string `json:"remove_students,omitempty"`
}

// IsEmpty returns true if the update changes nothing.
func (u GroupUpdate) IsEmpty() bool {
	return len(u.AddTeachers) == 0 && len(u.AddStudents) == 0 &&
		len(u.RemoveTeachers) == 0 && len(u.RemoveStudents) == 0
}

// ProfileUpdate is a partial profile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name              *string    `json:"name,omitempty"`
	Role              *Role      `json:"role,omitempty"`
	EnrolledClassID   *string    `json:"enrolled_class_id,omitempty"`
	TeachingClassIDs  []string   `json:"teaching_class_ids,omitempty"`
	AvailableModules  []string   `json:"available_modules,omitempty"`
	AccountExpiration *time.Time `json:"account_expiration_date,omitempty"`
}

// IsEmpty returns true if the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Role == nil && u.EnrolledClassID == nil &&
		u.TeachingClassIDs == nil && u.AvailableModules == nil && u.AccountExpiration == nil
}

// ChangesClasses is true when the update touches the enrolled or teaching
// classes, which must then be mirrored in class membership.
func (u ProfileUpdate) ChangesClasses() bool {
	return u.EnrolledClassID != nil || u.TeachingClassIDs != nil
}

// NewAccount is the input for creating a single account: the profile fields
// plus the role, class context and expiration handed to the identity provider.
type NewAccount struct {
	Email             string     `json:"email" yaml:"email"`
	Name              string     `json:"name" yaml:"name"`
	Role              Role       `json:"role" yaml:"role"`
	EnrolledClassID   string     `json:"enrolled_class_id,omitempty" yaml:"enrolled_class_id"`
	TeachingClassIDs  []string   `json:"teaching_class_ids,omitempty" yaml:"teaching_class_ids"`
	AvailableModules  []string   `json:"available_modules,omitempty" yaml:"available_modules"`
	AccountExpiration *time.Time `json:"account_expiration_date,omitempty" yaml:"account_expiration_date"`
}

// ApplyUpdate returns p with the non-nil fields of u applied.
func ApplyUpdate(p Profile, u ProfileUpdate) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.EnrolledClassID != nil {
		p.EnrolledClassID = *u.EnrolledClassID
	}
	if u.TeachingClassIDs != nil {
		p.TeachingClassIDs = slices.Clone(u.TeachingClassIDs)
	}
	if u.AvailableModules != nil {
		p.AvailableModules = slices.Clone(u.AvailableModules)
	}
	if u.AccountExpiration != nil {
		t := *u.AccountExpiration
		p.AccountExpiration = &t
	}
	return p
}

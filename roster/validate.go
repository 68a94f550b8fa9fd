package roster

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/nomis52/roster/apperr"
)

// NormalizeEmail trims and lowercases email and checks that it is a bare
// address such as "alice@school.org". Display names are rejected.
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return "", apperr.BadRequest("email is required")
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return "", apperr.BadRequest(fmt.Sprintf("invalid email address %q", email))
	}
	return e, nil
}

// NormalizeGroupID trims id and checks that it can be used as a key and a
// URL path segment.
func NormalizeGroupID(id string) (string, error) {
	g := strings.TrimSpace(id)
	if g == "" {
		return "", apperr.BadRequest("class id is required")
	}
	if strings.ContainsAny(g, " \t\r\n/?#") {
		return "", apperr.BadRequest(fmt.Sprintf("invalid class id %q", id))
	}
	return g, nil
}

// ValidateClassContext checks that role is known and carries the class
// context it needs: students are enrolled in exactly one class, teachers teach
// at least one, admins need neither.
func ValidateClassContext(role Role, enrolledClassID string, teachingClassIDs []string) error {
	if !role.Valid() {
		return apperr.BadRequest(fmt.Sprintf("invalid role %q", role))
	}
	switch role {
	case RoleStudent:
		if strings.TrimSpace(enrolledClassID) == "" {
			return apperr.BadRequest("students require enrolled_class_id")
		}
		if len(teachingClassIDs) > 0 {
			return apperr.BadRequest("students cannot have teaching_class_ids")
		}
	case RoleTeacher:
		if len(teachingClassIDs) == 0 {
			return apperr.BadRequest("teachers require teaching_class_ids")
		}
	}
	if enrolledClassID != "" {
		if _, err := NormalizeGroupID(enrolledClassID); err != nil {
			return err
		}
	}
	for _, id := range teachingClassIDs {
		if _, err := NormalizeGroupID(id); err != nil {
			return err
		}
	}
	return nil
}

// Normalize validates the account and returns a copy with a normalized email
// and trimmed name.
func (a NewAccount) Normalize() (NewAccount, error) {
	email, err := NormalizeEmail(a.Email)
	if err != nil {
		return NewAccount{}, err
	}
	a.Email = email
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return NewAccount{}, apperr.BadRequest(fmt.Sprintf("name is required for %s", email))
	}
	if err := ValidateClassContext(a.Role, a.EnrolledClassID, a.TeachingClassIDs); err != nil {
		return NewAccount{}, err
	}
	return a, nil
}

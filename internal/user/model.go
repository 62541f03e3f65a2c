package user

import (
	"time"

	"github.com/gofrs/uuid"
)

// Role is the kind of school account.
type Role string

const (
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleHeadteacher Role = "headteacher"
)

// Valid reports whether r is one of the known account types.
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleHeadteacher:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// User is a school account. Login is unique and addresses the user in the API.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Surname      string    `json:"surname" db:"surname"`
	Patronymic   *string   `json:"patronymic" db:"patronymic"`
	Type         Role      `json:"type" db:"type"`
	ClassName    *string   `json:"class_name" db:"class_name"` // for students
	Login        string    `json:"login" db:"login"`
	Subject      *string   `json:"subject" db:"subject"` // for teachers
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Optional is a nullable field of a partial update.
// Set=false leaves the stored value alone; Set=true with a nil Value clears it.
type Optional struct {
	Set   bool
	Value *string
}

// Patch carries only the fields present in a PATCH body.
type Patch struct {
	Name       *string
	Surname    *string
	Patronymic Optional
	Type       *Role
	ClassName  Optional
	Login      *string
	Password   *string
	Subject    Optional
}

// Apply copies every present field onto u. Login and password are handled by the service.
func (p Patch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Surname != nil {
		u.Surname = *p.Surname
	}
	if p.Patronymic.Set {
		u.Patronymic = p.Patronymic.Value
	}
	if p.Type != nil {
		u.Type = *p.Type
	}
	if p.ClassName.Set {
		u.ClassName = p.ClassName.Value
	}
	if p.Subject.Set {
		u.Subject = p.Subject.Value
	}
}

// Filter selects users by exact match on every non-nil field.
type Filter struct {
	Name       *string
	Surname    *string
	Patronymic *string
	Type       *Role
	ClassName  *string
	Login      *string
	Subject    *string
}

// IsEmpty reports whether the filter constrains nothing and so matches every user.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

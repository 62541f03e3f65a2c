package http

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/school-user-service/internal/user"
)

const (
	bcryptLimitTag = "bcrypt"
	// bcrypt ignores everything past 72 bytes, so longer passwords are refused up front.
	bcryptMaxBytes = 72
)

// CreateUserRequest is the body of POST /users and PUT /users/{login}.
type CreateUserRequest struct {
	Name       string  `json:"name" validate:"required,max=64"`
	Surname    string  `json:"surname" validate:"required,max=64"`
	Patronymic *string `json:"patronymic,omitempty" validate:"omitempty,max=64"`
	Type       string  `json:"type" validate:"required,oneof=teacher student headteacher"`
	ClassName  *string `json:"class_name,omitempty" validate:"omitempty,max=8"`
	Login      string  `json:"login" validate:"required,max=64,excludesall=/,ne=user_filter"`
	Password   string  `json:"password" validate:"required,min=8,bcrypt"`
	Subject    *string `json:"subject,omitempty" validate:"omitempty,max=64"`
}

func (r CreateUserRequest) toUser() *user.User {
	return &user.User{
		Name:       r.Name,
		Surname:    r.Surname,
		Patronymic: r.Patronymic,
		Type:       user.Role(r.Type),
		ClassName:  r.ClassName,
		Login:      r.Login,
		Subject:    r.Subject,
	}
}

// optionalString tells an absent field apart from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a string or null: %w", err)
	}
	o.Value = &s
	return nil
}

func (o optionalString) toOptional() user.Optional {
	return user.Optional{Set: o.Set, Value: o.Value}
}

// PatchUserRequest is the body of PATCH /users/{login}. Absent fields stay untouched.
type PatchUserRequest struct {
	Name       optionalString `json:"name" validate:"omitnil,min=1,max=64"`
	Surname    optionalString `json:"surname" validate:"omitnil,min=1,max=64"`
	Patronymic optionalString `json:"patronymic" validate:"omitnil,max=64"`
	Type       optionalString `json:"type" validate:"omitnil,oneof=teacher student headteacher"`
	ClassName  optionalString `json:"class_name" validate:"omitnil,max=8"`
	Login      optionalString `json:"login" validate:"omitnil,min=1,max=64,excludesall=/,ne=user_filter"`
	Password   optionalString `json:"password" validate:"omitnil,min=8,bcrypt"`
	Subject    optionalString `json:"subject" validate:"omitnil,max=64"`
}

// nullViolations lists fields that were sent as null although they cannot be cleared.
func (r PatchUserRequest) nullViolations() []string {
	var details []string
	check := func(name string, o optionalString) {
		if o.Set && o.Value == nil {
			details = append(details, fmt.Sprintf("field '%s' cannot be null", name))
		}
	}
	check("name", r.Name)
	check("surname", r.Surname)
	check("type", r.Type)
	check("login", r.Login)
	check("password", r.Password)
	return details
}

func (r PatchUserRequest) toPatch() user.Patch {
	patch := user.Patch{
		Name:       r.Name.Value,
		Surname:    r.Surname.Value,
		Patronymic: r.Patronymic.toOptional(),
		ClassName:  r.ClassName.toOptional(),
		Login:      r.Login.Value,
		Password:   r.Password.Value,
		Subject:    r.Subject.toOptional(),
	}
	if r.Type.Value != nil {
		role := user.Role(*r.Type.Value)
		patch.Type = &role
	}
	return patch
}

// UserFilterRequest selects users by exact match; omitted or null fields do not constrain.
type UserFilterRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,max=64"`
	Surname    *string `json:"surname,omitempty" validate:"omitempty,max=64"`
	Patronymic *string `json:"patronymic,omitempty" validate:"omitempty,max=64"`
	Type       *string `json:"type,omitempty" validate:"omitempty,oneof=teacher student headteacher"`
	ClassName  *string `json:"class_name,omitempty" validate:"omitempty,max=8"`
	Login      *string `json:"login,omitempty" validate:"omitempty,max=64"`
	Subject    *string `json:"subject,omitempty" validate:"omitempty,max=64"`
}

// filterFromQuery fills a filter from query parameters. Unknown parameters are rejected.
func filterFromQuery(query url.Values) (UserFilterRequest, error) {
	var req UserFilterRequest
	fields := map[string]**string{
		"name":       &req.Name,
		"surname":    &req.Surname,
		"patronymic": &req.Patronymic,
		"type":       &req.Type,
		"class_name": &req.ClassName,
		"login":      &req.Login,
		"subject":    &req.Subject,
	}

	for key, values := range query {
		dst, ok := fields[key]
		if !ok {
			return UserFilterRequest{}, fmt.Errorf("unknown query parameter %q", key)
		}
		if len(values) != 1 {
			return UserFilterRequest{}, fmt.Errorf("query parameter %q must be given once", key)
		}
		value := values[0]
		*dst = &value
	}

	return req, nil
}

func (r UserFilterRequest) toFilter() user.Filter {
	filter := user.Filter{
		Name:       r.Name,
		Surname:    r.Surname,
		Patronymic: r.Patronymic,
		ClassName:  r.ClassName,
		Login:      r.Login,
		Subject:    r.Subject,
	}
	if r.Type != nil {
		role := user.Role(*r.Type)
		filter.Type = &role
	}
	return filter
}

type UserResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Surname    string    `json:"surname"`
	Patronymic *string   `json:"patronymic"`
	Type       string    `json:"type"`
	ClassName  *string   `json:"class_name"`
	Login      string    `json:"login"`
	Subject    *string   `json:"subject"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Surname:    u.Surname,
		Patronymic: u.Patronymic,
		Type:       u.Type.String(),
		ClassName:  u.ClassName,
		Login:      u.Login,
		Subject:    u.Subject,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func newUserListResponse(users []user.User) []UserResponse {
	response := make([]UserResponse, 0, len(users))
	for i := range users {
		response = append(response, newUserResponse(&users[i]))
	}
	return response
}

// newValidator reports fields by their JSON names and understands optionalString.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Absent and null both surface as a nil pointer, which omitnil skips.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if o, ok := field.Interface().(optionalString); ok {
			return o.Value
		}
		return nil
	}, optionalString{})

	_ = validate.RegisterValidation(bcryptLimitTag, func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= bcryptMaxBytes
	})

	return validate
}

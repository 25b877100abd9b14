package models

import (
	"strconv"
	"time"
)

type Gender int

const (
	GenderMale Gender = iota
	GenderFemale
	GenderOther
)

var genderNames = map[Gender]string{
	GenderMale:   "Male",
	GenderFemale: "Female",
	GenderOther:  "Other",
}

func (g Gender) String() string {
	if name, ok := genderNames[g]; ok {
		return name
	}
	return strconv.Itoa(int(g))
}

// Identity is the signed-in user as projected from the access token claims.
type Identity struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"dateOfBirth"`
	Address     string `json:"address"`
	Role        string `json:"role"`
}

// WithProfile returns a copy of the identity with every field set in p
// applied on top.
func (i Identity) WithProfile(p UpdateProfileRequest) Identity {
	if p.FirstName != nil {
		i.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		i.LastName = *p.LastName
	}
	if p.UserName != nil {
		i.UserName = *p.UserName
	}
	if p.Email != nil {
		i.Email = *p.Email
	}
	if p.PhoneNumber != nil {
		i.PhoneNumber = *p.PhoneNumber
	}
	if p.Gender != nil {
		i.Gender = p.Gender.String()
	}
	if p.DateOfBirth != nil {
		i.DateOfBirth = *p.DateOfBirth
	}
	if p.Address != nil {
		i.Address = *p.Address
	}
	return i
}

type LoginRequest struct {
	UserNameOrEmail string `json:"userNameOrEmail"`
	Password        string `json:"password"`
}

type SignUpRequest struct {
	FirstName   string `json:"firstName" validate:"max=64"`
	LastName    string `json:"lastName" validate:"max=64"`
	UserName    string `json:"userName" validate:"required,max=64,excludes=@"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	Gender      Gender `json:"gender" validate:"oneof=0 1 2"`
	DateOfBirth string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Address     string `json:"address,omitempty" validate:"max=256"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateProfileRequest carries only the edited fields; nil means unchanged.
type UpdateProfileRequest struct {
	FirstName   *string `json:"firstName,omitempty" validate:"omitnil,max=64"`
	LastName    *string `json:"lastName,omitempty" validate:"omitnil,max=64"`
	UserName    *string `json:"userName,omitempty" validate:"omitnil,required,max=64,excludes=@"`
	Email       *string `json:"email,omitempty" validate:"omitnil,required,email"`
	PhoneNumber *string `json:"phoneNumber,omitempty" validate:"omitnil,omitempty,e164"`
	Gender      *Gender `json:"gender,omitempty" validate:"omitnil,oneof=0 1 2"`
	DateOfBirth *string `json:"dateOfBirth,omitempty" validate:"omitnil,omitempty,datetime=2006-01-02"`
	Address     *string `json:"address,omitempty" validate:"omitnil,max=256"`
}

// User is the account record kept by the backend.
type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	UserName     string    `json:"userName" dynamodbav:"user_name"`
	Email        string    `json:"email" dynamodbav:"email"`
	FirstName    string    `json:"firstName" dynamodbav:"first_name"`
	LastName     string    `json:"lastName" dynamodbav:"last_name"`
	PhoneNumber  string    `json:"phoneNumber" dynamodbav:"phone_number"`
	Gender       Gender    `json:"gender" dynamodbav:"gender"`
	DateOfBirth  string    `json:"dateOfBirth" dynamodbav:"date_of_birth"`
	Address      string    `json:"address,omitempty" dynamodbav:"address,omitempty"`
	Role         Role      `json:"role" dynamodbav:"role"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// Identity is the account as the client sees it.
func (u *User) Identity() Identity {
	return Identity{
		ID:          u.ID,
		UserName:    u.UserName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Gender:      u.Gender.String(),
		DateOfBirth: u.DateOfBirth,
		Address:     u.Address,
		Role:        u.Role.String(),
	}
}

// ApplyProfile copies every field set in p onto the user.
func (u *User) ApplyProfile(p UpdateProfileRequest) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.UserName != nil {
		u.UserName = *p.UserName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.DateOfBirth != nil {
		u.DateOfBirth = *p.DateOfBirth
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
}

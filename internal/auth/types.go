package auth

import "time"

// User is the authenticated identity joined with its profile role.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	FullName string `json:"full_name"`
	Company  string `json:"company,omitempty"`
}

// Profile extends an identity with role and display attributes.
type Profile struct {
	UserID    string    `json:"id"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	Company   *string   `json:"company,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate changes display attributes. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName *string
	Company  *string
	Phone    *string
}

func userFromProfile(id, email string, p Profile) User {
	u := User{ID: id, Email: email, Role: p.Role, FullName: p.FullName}
	if p.Company != nil {
		u.Company = *p.Company
	}
	return u
}

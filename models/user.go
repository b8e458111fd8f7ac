package models

// Group names as they are stored in user memberships.
const (
	GroupManager      = "Manager"
	GroupDeliveryCrew = "Delivery crew"
)

//User represents a user in the system

type User struct {
	ID           string   `json:"id"`
	Name         string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"-"`
	Groups       []string `json:"-"`
}

// SingleUser is the public view of a user.
type SingleUser struct {
	ID    string `json:"id"`
	Name  string `json:"username"`
	Email string `json:"email"`
}

func (u *User) Public() SingleUser {
	return SingleUser{ID: u.ID, Name: u.Name, Email: u.Email}
}

// InGroup reports whether the user is a member of group.
func (u *User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Role is the single effective role of a caller for one request.
type Role int

const (
	RoleCustomer Role = iota
	RoleDeliveryCrew
	RoleManager
)

func (r Role) String() string {
	switch r {
	case RoleManager:
		return "manager"
	case RoleDeliveryCrew:
		return "delivery_crew"
	default:
		return "customer"
	}
}

// ResolveRole picks the effective role from a set of group memberships.
// Manager wins over Delivery crew, which wins over the Customer default.
func ResolveRole(groups []string) Role {
	role := RoleCustomer
	for _, g := range groups {
		switch g {
		case GroupManager:
			return RoleManager
		case GroupDeliveryCrew:
			role = RoleDeliveryCrew
		}
	}
	return role
}

// Identity is the authenticated caller threaded through every service call.
type Identity struct {
	UserID   string
	Username string
	Email    string
	Role     Role
}

// NewIdentity resolves the role of u once and captures it.
func NewIdentity(u *User) Identity {
	return Identity{
		UserID:   u.ID,
		Username: u.Name,
		Email:    u.Email,
		Role:     ResolveRole(u.Groups),
	}
}

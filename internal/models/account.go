package models

// AccountRole separates the shared admin channel from parent accounts.
type AccountRole string

const (
	RoleParent AccountRole = "parent"
	RoleAdmin  AccountRole = "admin"
)

// Account is the per-user profile document keyed by email. Role is set
// at creation and is not editable through the profile path.
type Account struct {
	Email              string      `json:"email"`
	Name               string      `json:"name"`
	Role               AccountRole `json:"role"`
	PhoneNumber        string      `json:"phoneNumber"`
	Students           []string    `json:"students"`
	CallbackIdentifier string      `json:"callbackIdentifier"`
	PictureURL         string      `json:"pictureUrl,omitempty"`
}

// HasStudent reports whether the account links the given ssn.
func (a *Account) HasStudent(ssn string) bool {
	for _, s := range a.Students {
		if s == ssn {
			return true
		}
	}
	return false
}

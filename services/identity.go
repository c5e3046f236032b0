package services

// PermManage lets a user moderate every comment.
const PermManage = "core.manage"

// Identity is the acting user. The zero value is an anonymous guest.
type Identity struct {
	UserID   uint
	Username string
	Email    string
	// EmailVerified is set when the account proved it owns Email.
	EmailVerified bool
	Permissions   []string
}

func (i Identity) IsGuest() bool {
	return i.UserID == 0
}

func (i Identity) Can(perm string) bool {
	for _, p := range i.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

func (i Identity) IsManager() bool {
	return !i.IsGuest() && i.Can(PermManage)
}

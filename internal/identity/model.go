package identity

import "time"

const (
	RoleUser     = "user"
	RoleMerchant = "merchant"
)

// User represents a registered wallet owner.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Role      string
	PINHash   []byte

	// FaceEmbedding is the enrolled face vector, empty when the user never enrolled.
	FaceEmbedding []float32
	Latitude      float64
	Longitude     float64

	AllowFacePayments    bool
	AlwaysConfirmPayment bool

	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Enrolled reports whether the user has a face embedding on file.
func (u User) Enrolled() bool {
	return len(u.FaceEmbedding) > 0
}

// Registration is the onboarding request.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	PIN       string
	Role      string
	Latitude  float64
	Longitude float64
	FaceImage []byte
}

// PolicyUpdate toggles payment settings. Nil fields are left untouched.
type PolicyUpdate struct {
	AllowFacePayments    *bool
	AlwaysConfirmPayment *bool
}

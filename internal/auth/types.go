package auth

import "time"

// Identity types. The values double as token roles.
const (
	TypeCustomer = "customer"
	TypeEmployee = "employee"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Identity is a credentialed account, either a bank customer or a back
// office employee. Customers carry a national id and an account number;
// employees carry neither.
type Identity struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name"`
	NationalID    string    `json:"national_id,omitempty"`
	AccountNumber string    `json:"account_number,omitempty"`
	Email         string    `json:"email,omitempty"`
	Credential    string    `json:"-"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Credentials is one login attempt as received from the transport layer.
// Customers authenticate with username, account number and password;
// employees with username and password.
type Credentials struct {
	IdentityType  string
	Username      string
	AccountNumber string
	Password      string
	IP            string
	UserAgent     string
}

// Session is the result of a successful authentication.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  *Identity `json:"identity"`
}

// Registration is the input for customer provisioning.
type Registration struct {
	FullName      string `json:"full_name"`
	NationalID    string `json:"national_id"`
	AccountNumber string `json:"account_number"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	IP            string `json:"-"`
	UserAgent     string `json:"-"`
}

// ResetRequest starts a password reset. The account number is required for
// customers, ignored for employees.
type ResetRequest struct {
	IdentityType  string
	Username      string
	AccountNumber string
	IP            string
	UserAgent     string
}

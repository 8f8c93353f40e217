package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a login identity. Role-bearing data lives on the extended user
// records (Person, Manager, Accountant) linked back to the user.
type User struct {
	ID        int       `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	IsStaff   bool      `json:"is_staff" db:"is_staff"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CustomerType string

const (
	CustomerPerson  CustomerType = "P"
	CustomerCompany CustomerType = "C"
)

// Customer is the core-bank-system party an extended user and their accounts
// belong to.
type Customer struct {
	ID                int          `json:"id" db:"id"`
	Name              string       `json:"name" db:"name"`
	Type              CustomerType `json:"type" db:"type"`
	CBSCustomerNumber string       `json:"cbs_customer_number" db:"cbs_customer_number"`
}

// Role identifies which kind of extended user a login resolves to.
type Role string

const (
	RolePerson     Role = "person"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
)

// Actor is the role-bearing identity performing an operation: one value
// instead of three record types. PIN is empty for accountants; TransferLimit
// is set only for managers that have one, expressed in BGN.
type Actor struct {
	UserID        int
	Role          Role
	CustomerID    int
	PIN           string
	TransferLimit *decimal.Decimal
}

// CanAuthorize reports whether the actor's role may approve transfers at all.
func (a Actor) CanAuthorize() bool {
	return a.Role == RolePerson || a.Role == RoleManager
}

// ExtendedUser is the common shape of the person/manager/accountant records
// exposed over the registration endpoints.
type ExtendedUser struct {
	ID                     int              `json:"id" db:"id"`
	UserID                 int              `json:"user_id" db:"user_id"`
	CustomerID             *int             `json:"customer_id,omitempty" db:"customer_id"`
	PersonalIdentityNumber string           `json:"personal_identity_number" db:"personal_identity_number"`
	DateOfBirth            *time.Time       `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Address                string           `json:"address,omitempty" db:"address"`
	MobilePhone            string           `json:"mobile_phone" db:"mobile_phone"`
	LimitPerTransfer       *decimal.Decimal `json:"limit_per_transfer,omitempty" db:"limit_per_transfer"`
}

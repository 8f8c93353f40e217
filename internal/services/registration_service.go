package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/corebank/backoffice/internal/models"
)

// RegistrationService manages customers and their extended users. Extended
// users carry the role-bearing data: persons and managers can operate
// accounts, accountants only prepare transfers.
type RegistrationService struct {
	db        *sql.DB
	auth      *AuthService
	notifier  *NotificationService
	validator *ValidationHelper
}

func NewRegistrationService(db *sql.DB, auth *AuthService, notifier *NotificationService) *RegistrationService {
	return &RegistrationService{db: db, auth: auth, notifier: notifier, validator: NewValidationHelper()}
}

type CreateCustomerRequest struct {
	Name              string `json:"name" validate:"required,max=200"`
	Type              string `json:"type" validate:"required,oneof=P C"`
	CBSCustomerNumber string `json:"cbs_customer_number" validate:"required,max=20"`
}

// CreateExtendedUserRequest registers a login together with its extended
// record in one unit of work.
type CreateExtendedUserRequest struct {
	Username               string           `json:"username" validate:"required,min=3,max=50"`
	Password               string           `json:"password" validate:"required,min=8"`
	Email                  string           `json:"email" validate:"required,email"`
	FirstName              string           `json:"first_name" validate:"required,max=100"`
	LastName               string           `json:"last_name" validate:"required,max=100"`
	CustomerID             int              `json:"customer_id" validate:"required"`
	PersonalIdentityNumber string           `json:"personal_identity_number" validate:"required,len=10,numeric"`
	DateOfBirth            string           `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Address                string           `json:"address" validate:"max=250"`
	MobilePhone            string           `json:"mobile_phone" validate:"required,e164"`
	PIN                    string           `json:"pin" validate:"omitempty,len=4,numeric"`
	LimitPerTransfer       *decimal.Decimal `json:"limit_per_transfer"`
}

// CreateCustomer registers a customer
// @Summary Create a customer
// @Tags registrations
// @Accept json
// @Produce json
// @Param customer body CreateCustomerRequest true "Customer data"
// @Success 201 {object} models.Customer
// @Failure 400 {object} ErrorResponse
// @Router /customers [post]
func (rs *RegistrationService) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	customer := models.Customer{
		Name:              req.Name,
		Type:              models.CustomerType(req.Type),
		CBSCustomerNumber: req.CBSCustomerNumber,
	}
	err := rs.db.QueryRow(`
		INSERT INTO customers (name, type, cbs_customer_number)
		VALUES ($1, $2, $3) RETURNING id`,
		customer.Name, customer.Type, customer.CBSCustomerNumber).Scan(&customer.ID)
	if err != nil {
		log.Printf("[REGISTER] Failed to create customer: %v", err)
		SendErrorResponse(w, "Failed to create customer", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[REGISTER] Customer %d (%s) created", customer.ID, customer.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(customer)
}

// ListCustomers lists customers
// @Summary List customers
// @Tags registrations
// @Produce json
// @Success 200 {object} object{customers=[]models.Customer,count=int}
// @Router /customers [get]
func (rs *RegistrationService) ListCustomers(w http.ResponseWriter, r *http.Request) {
	rows, err := rs.db.Query(`SELECT id, name, type, cbs_customer_number FROM customers ORDER BY id`)
	if err != nil {
		log.Printf("[REGISTER] Failed to list customers: %v", err)
		SendErrorResponse(w, "Failed to fetch customers", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CBSCustomerNumber); err != nil {
			SendErrorResponse(w, "Failed to fetch customers", http.StatusInternalServerError, nil)
			return
		}
		customers = append(customers, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"customers": customers,
		"count":     len(customers),
	})
}

// CreatePerson registers a person extended user
// @Summary Register a person
// @Description Create a login and its person record. Persons belong to P-type customers and authorize with a PIN.
// @Tags registrations
// @Accept json
// @Produce json
// @Param person body CreateExtendedUserRequest true "Person data"
// @Success 201 {object} models.ExtendedUser
// @Failure 400 {object} ErrorResponse
// @Router /persons [post]
func (rs *RegistrationService) CreatePerson(w http.ResponseWriter, r *http.Request) {
	rs.createExtendedUser(w, r, models.RolePerson)
}

// CreateManager registers a manager extended user
// @Summary Register a manager
// @Description Create a login and its manager record. Managers belong to C-type customers, authorize with a PIN and may carry a per-transfer limit in BGN.
// @Tags registrations
// @Accept json
// @Produce json
// @Param manager body CreateExtendedUserRequest true "Manager data"
// @Success 201 {object} models.ExtendedUser
// @Failure 400 {object} ErrorResponse
// @Router /managers [post]
func (rs *RegistrationService) CreateManager(w http.ResponseWriter, r *http.Request) {
	rs.createExtendedUser(w, r, models.RoleManager)
}

// CreateAccountant registers an accountant extended user
// @Summary Register an accountant
// @Description Create a login and its accountant record. Accountants belong to C-type customers, prepare transfers and cannot authorize them.
// @Tags registrations
// @Accept json
// @Produce json
// @Param accountant body CreateExtendedUserRequest true "Accountant data"
// @Success 201 {object} models.ExtendedUser
// @Failure 400 {object} ErrorResponse
// @Router /accountants [post]
func (rs *RegistrationService) CreateAccountant(w http.ResponseWriter, r *http.Request) {
	rs.createExtendedUser(w, r, models.RoleAccountant)
}

func (rs *RegistrationService) createExtendedUser(w http.ResponseWriter, r *http.Request, role models.Role) {
	var req CreateExtendedUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if role != models.RoleAccountant && req.PIN == "" {
		SendErrorResponse(w, "PIN is required", http.StatusBadRequest, nil)
		return
	}
	if role != models.RoleManager && req.LimitPerTransfer != nil {
		SendErrorResponse(w, "Only managers carry a transfer limit", http.StatusBadRequest, nil)
		return
	}

	var customerType models.CustomerType
	err := rs.db.QueryRow(`SELECT type FROM customers WHERE id = $1`, req.CustomerID).Scan(&customerType)
	if err != nil {
		SendErrorResponse(w, "Unknown customer", http.StatusBadRequest, nil)
		return
	}
	// Persons attach to individual customers, managers and accountants to
	// company customers.
	if role == models.RolePerson && customerType != models.CustomerPerson {
		SendErrorResponse(w, "Persons require an individual customer", http.StatusBadRequest, nil)
		return
	}
	if role != models.RolePerson && customerType != models.CustomerCompany {
		SendErrorResponse(w, "Managers and accountants require a company customer", http.StatusBadRequest, nil)
		return
	}

	var dob *time.Time
	if req.DateOfBirth != "" {
		parsed, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			SendErrorResponse(w, "Invalid date_of_birth", http.StatusBadRequest, nil)
			return
		}
		dob = &parsed
	}

	passwordHash, err := rs.auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("[REGISTER] Failed to hash password: %v", err)
		SendErrorResponse(w, "Failed to register user", http.StatusInternalServerError, nil)
		return
	}

	tx, err := rs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to register user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Usernames are stored lowercase; login lowercases before its lookup.
	username := strings.ToLower(req.Username)

	var userID int
	err = tx.QueryRow(`
		INSERT INTO users (username, email, password_hash, first_name, last_name, is_staff, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id`,
		username, req.Email, passwordHash, req.FirstName, req.LastName, time.Now()).Scan(&userID)
	if err != nil {
		log.Printf("[REGISTER] Failed to create user %s: %v", username, err)
		SendErrorResponse(w, "Username or email already taken", http.StatusConflict, nil)
		return
	}

	extended := models.ExtendedUser{
		UserID:                 userID,
		CustomerID:             &req.CustomerID,
		PersonalIdentityNumber: req.PersonalIdentityNumber,
		DateOfBirth:            dob,
		Address:                req.Address,
		MobilePhone:            req.MobilePhone,
	}

	switch role {
	case models.RolePerson:
		err = tx.QueryRow(`
			INSERT INTO persons (user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone, pin)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			userID, req.CustomerID, req.PersonalIdentityNumber, dob, req.Address, req.MobilePhone, req.PIN).
			Scan(&extended.ID)
	case models.RoleManager:
		extended.LimitPerTransfer = req.LimitPerTransfer
		limit := decimal.NullDecimal{}
		if req.LimitPerTransfer != nil {
			limit = decimal.NullDecimal{Decimal: *req.LimitPerTransfer, Valid: true}
		}
		err = tx.QueryRow(`
			INSERT INTO managers (user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone, pin, limit_per_transfer)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			userID, req.CustomerID, req.PersonalIdentityNumber, dob, req.Address, req.MobilePhone, req.PIN, limit).
			Scan(&extended.ID)
	case models.RoleAccountant:
		err = tx.QueryRow(`
			INSERT INTO accountants (user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			userID, req.CustomerID, req.PersonalIdentityNumber, dob, req.Address, req.MobilePhone).
			Scan(&extended.ID)
	}
	if err != nil {
		log.Printf("[REGISTER] Failed to create %s record for user %d: %v", role, userID, err)
		SendErrorResponse(w, "Failed to register user", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[REGISTER] Failed to commit registration of %s: %v", username, err)
		SendErrorResponse(w, "Failed to register user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[REGISTER] %s %s registered as user %d", role, username, userID)
	if rs.notifier != nil {
		rs.notifier.EnqueueMail(req.Email,
			fmt.Sprintf("Welcome %s, your back office access is ready.", req.FirstName))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(extended)
}

// GetExtendedUser resolves a user id to its role and extended record
// @Summary Get extended user by user id
// @Tags registrations
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} object{role=string,record=models.ExtendedUser}
// @Failure 404 {object} ErrorResponse
// @Router /users/{id}/extended [get]
func (rs *RegistrationService) GetExtendedUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	type lookup struct {
		role  models.Role
		query string
	}
	lookups := []lookup{
		{models.RolePerson, `SELECT id, user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone FROM persons WHERE user_id = $1`},
		{models.RoleManager, `SELECT id, user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone FROM managers WHERE user_id = $1`},
		{models.RoleAccountant, `SELECT id, user_id, customer_id, personal_identity_number, date_of_birth, address, mobile_phone FROM accountants WHERE user_id = $1`},
	}

	for _, l := range lookups {
		var e models.ExtendedUser
		var dob sql.NullTime
		err := rs.db.QueryRow(l.query, userID).
			Scan(&e.ID, &e.UserID, &e.CustomerID, &e.PersonalIdentityNumber, &dob, &e.Address, &e.MobilePhone)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			log.Printf("[REGISTER] Extended user lookup failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
			return
		}
		if dob.Valid {
			e.DateOfBirth = &dob.Time
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"role":   l.role,
			"record": e,
		})
		return
	}

	SendErrorResponse(w, "Extended user not found", http.StatusNotFound, nil)
}

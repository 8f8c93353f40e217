package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/corebank/backoffice/internal/models"
)

func registrationTestService(t *testing.T) (*RegistrationService, sqlmock.Sqlmock, func()) {
	t.Helper()
	setAuthTestConfig()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	redisClient, _ := redismock.NewClientMock()
	auth := NewAuthService(db, redisClient)
	notifier := NewNotificationService(db, redisClient, nil)
	return NewRegistrationService(db, auth, notifier), mock, func() { db.Close() }
}

func validPersonRequest() map[string]interface{} {
	return map[string]interface{}{
		"username":                 "i.petrova",
		"password":                 "s3cret-pass",
		"email":                    "i.petrova@example.com",
		"first_name":               "Ivanka",
		"last_name":                "Petrova",
		"customer_id":              3,
		"personal_identity_number": "8001014455",
		"date_of_birth":            "1980-01-01",
		"address":                  "12 Vitosha Blvd, Sofia",
		"mobile_phone":             "+359881234567",
		"pin":                      "1234",
	}
}

func TestRegistrationService_CreateCustomer(t *testing.T) {
	service, mock, cleanup := registrationTestService(t)
	defer cleanup()

	t.Run("creates a company customer", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO customers").
			WithArgs("Balkan Trading EOOD", "C", "CBS-000451").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		body, _ := json.Marshal(map[string]string{
			"name":                "Balkan Trading EOOD",
			"type":                "C",
			"cbs_customer_number": "CBS-000451",
		})
		r := httptest.NewRequest("POST", "/customers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreateCustomer(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var customer models.Customer
		json.Unmarshal(w.Body.Bytes(), &customer)
		assert.Equal(t, 7, customer.ID)
		assert.Equal(t, models.CustomerCompany, customer.Type)
	})

	t.Run("rejects unknown customer type", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"name":                "Balkan Trading EOOD",
			"type":                "X",
			"cbs_customer_number": "CBS-000451",
		})
		r := httptest.NewRequest("POST", "/customers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreateCustomer(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRegistrationService_CreatePerson(t *testing.T) {
	t.Run("registers login and person record in one transaction", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("P"))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("i.petrova", "i.petrova@example.com", sqlmock.AnyArg(),
				"Ivanka", "Petrova", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(15))
		mock.ExpectQuery("INSERT INTO persons").
			WithArgs(15, 3, "8001014455", sqlmock.AnyArg(), "12 Vitosha Blvd, Sofia",
				"+359881234567", "1234").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), "M", "i.petrova@example.com", sqlmock.AnyArg(),
				"P", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(validPersonRequest())
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var extended models.ExtendedUser
		json.Unmarshal(w.Body.Bytes(), &extended)
		assert.Equal(t, 4, extended.ID)
		assert.Equal(t, 15, extended.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores a mixed-case username lowercase", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("P"))
		mock.ExpectBegin()
		// Login lowercases before its lookup, so the stored row must match.
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("ivan.petrov", "i.petrova@example.com", sqlmock.AnyArg(),
				"Ivanka", "Petrova", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(18))
		mock.ExpectQuery("INSERT INTO persons").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO notifications").
			WillReturnResult(sqlmock.NewResult(1, 1))

		req := validPersonRequest()
		req["username"] = "Ivan.Petrov"
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires a PIN", func(t *testing.T) {
		service, _, cleanup := registrationTestService(t)
		defer cleanup()

		req := validPersonRequest()
		delete(req, "pin")
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "PIN is required")
	})

	t.Run("rejects a company customer", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("C"))

		body, _ := json.Marshal(validPersonRequest())
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "individual customer")
	})

	t.Run("rejects a transfer limit", func(t *testing.T) {
		service, _, cleanup := registrationTestService(t)
		defer cleanup()

		req := validPersonRequest()
		req["limit_per_transfer"] = "5000"
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Only managers")
	})

	t.Run("duplicate username returns conflict", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("P"))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(errNoRows())
		mock.ExpectRollback()

		body, _ := json.Marshal(validPersonRequest())
		r := httptest.NewRequest("POST", "/persons", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreatePerson(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestRegistrationService_CreateManager(t *testing.T) {
	t.Run("registers a manager with a per-transfer limit", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("C"))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(16))
		mock.ExpectQuery("INSERT INTO managers").
			WithArgs(16, 3, "8001014455", sqlmock.AnyArg(), "12 Vitosha Blvd, Sofia",
				"+359881234567", "1234", "5000").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), "M", "i.petrova@example.com", sqlmock.AnyArg(),
				"P", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		req := validPersonRequest()
		req["limit_per_transfer"] = "5000"
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/managers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreateManager(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var extended models.ExtendedUser
		json.Unmarshal(w.Body.Bytes(), &extended)
		assert.NotNil(t, extended.LimitPerTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an individual customer", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("P"))

		body, _ := json.Marshal(validPersonRequest())
		r := httptest.NewRequest("POST", "/managers", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreateManager(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "company customer")
	})
}

func TestRegistrationService_CreateAccountant(t *testing.T) {
	t.Run("registers without a PIN", func(t *testing.T) {
		service, mock, cleanup := registrationTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT type FROM customers").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("C"))
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(17))
		mock.ExpectQuery("INSERT INTO accountants").
			WithArgs(17, 3, "8001014455", sqlmock.AnyArg(), "12 Vitosha Blvd, Sofia",
				"+359881234567").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), "M", "i.petrova@example.com", sqlmock.AnyArg(),
				"P", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		req := validPersonRequest()
		delete(req, "pin")
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/accountants", bytes.NewReader(body))
		w := httptest.NewRecorder()

		service.CreateAccountant(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRegistrationService_GetExtendedUser(t *testing.T) {
	service, mock, cleanup := registrationTestService(t)
	defer cleanup()

	extendedColumns := []string{"id", "user_id", "customer_id", "personal_identity_number",
		"date_of_birth", "address", "mobile_phone"}

	t.Run("manager is found after persons miss", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM persons").
			WithArgs(16).
			WillReturnError(errNoRows())
		mock.ExpectQuery("SELECT (.+) FROM managers").
			WithArgs(16).
			WillReturnRows(sqlmock.NewRows(extendedColumns).
				AddRow(2, 16, 3, "8001014455", nil, "12 Vitosha Blvd, Sofia", "+359881234567"))

		r := httptest.NewRequest("GET", "/users/16/extended", nil)
		r = requestWithURLParam(r, "id", "16")
		w := httptest.NewRecorder()

		service.GetExtendedUser(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Role   models.Role         `json:"role"`
			Record models.ExtendedUser `json:"record"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, models.RoleManager, response.Role)
		assert.Equal(t, 2, response.Record.ID)
		assert.Nil(t, response.Record.DateOfBirth)
	})

	t.Run("unknown user returns 404", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM persons").WithArgs(99).WillReturnError(errNoRows())
		mock.ExpectQuery("SELECT (.+) FROM managers").WithArgs(99).WillReturnError(errNoRows())
		mock.ExpectQuery("SELECT (.+) FROM accountants").WithArgs(99).WillReturnError(errNoRows())

		r := httptest.NewRequest("GET", "/users/99/extended", nil)
		r = requestWithURLParam(r, "id", "99")
		w := httptest.NewRecorder()

		service.GetExtendedUser(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

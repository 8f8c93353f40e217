package services

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

type MockSMSSender struct {
	mock.Mock
}

func (m *MockSMSSender) SendSMS(ctx context.Context, phone, contents string) error {
	args := m.Called(ctx, phone, contents)
	return args.Error(0)
}

// testUserContext mirrors what the auth middleware puts into the request
// context after validating a token.
func testUserContext(r *http.Request, userID int) context.Context {
	return context.WithValue(r.Context(), "userID", strconv.Itoa(userID))
}

// requestWithURLParam injects a chi route parameter for handlers called
// outside a router.
func requestWithURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func errNoRows() error {
	return sql.ErrNoRows
}

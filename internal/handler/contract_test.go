package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/stretchr/testify/require"
)

var specPath = filepath.Join("..", "..", "docs", "api", "openapi.yaml")

// loadSpec loads and validates the OpenAPI document.
func loadSpec(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(specPath)
	require.NoError(t, err, "load %s", specPath)
	require.NoError(t, spec.Validate(context.Background()), "openapi document is invalid")

	router, err := gorillamux.NewRouter(spec)
	require.NoError(t, err)
	return spec, router
}

// checkContract validates a recorded response against the documented one.
func checkContract(t *testing.T, router routers.Router, req *http.Request, rec *httptest.ResponseRecorder) {
	t.Helper()

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, "%s %s is not documented", req.Method, req.URL.Path)

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rec.Code,
		Header: rec.Header(),
	}
	input.SetBodyBytes(rec.Body.Bytes())

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("%s %s -> %d does not match the contract: %v\nbody: %s",
			req.Method, req.URL.Path, rec.Code, err, rec.Body.String())
	}
}

func TestOpenAPISpec_DocumentsEveryRoute(t *testing.T) {
	spec, _ := loadSpec(t)

	for _, path := range []string{
		"/", "/healthz", "/readyz", "/metrics",
		"/user/", "/user/change-password", "/user/{user_id}",
		"/auth/login", "/auth/", "/auth/me",
	} {
		if spec.Paths.Find(path) == nil {
			t.Errorf("path %s missing from the OpenAPI document", path)
		}
	}
}

func TestContract_Responses(t *testing.T) {
	_, router := loadSpec(t)
	env := newTestEnv(t)
	env.createUser(t, "alice@example.com")

	login := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, login.Code)
	token := decode[struct {
		AccessToken string `json:"access_token"`
	}](t, login).AccessToken

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		status  int
	}{
		{"online", http.MethodGet, "/", "", nil, http.StatusOK},
		{"healthz", http.MethodGet, "/healthz", "", nil, http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", "", nil, http.StatusOK},
		{"create", http.MethodPost, "/user/", `{"email":"bob@example.com","password":"secret1","name":"Bobby","surname":"Brown"}`, nil, http.StatusCreated},
		{"create duplicate", http.MethodPost, "/user/", `{"email":"alice@example.com","password":"secret1","name":"Alice","surname":"Smith"}`, nil, http.StatusConflict},
		{"create invalid", http.MethodPost, "/user/", `{"email":"nope","password":"x","name":"Alice","surname":"Smith"}`, nil, http.StatusUnprocessableEntity},
		{"create malformed", http.MethodPost, "/user/", `{`, nil, http.StatusBadRequest},
		{"list", http.MethodGet, "/user/", "", nil, http.StatusOK},
		{"get", http.MethodGet, "/user/1", "", nil, http.StatusOK},
		{"get missing", http.MethodGet, "/user/999", "", nil, http.StatusNotFound},
		{"get bad id", http.MethodGet, "/user/abc", "", nil, http.StatusUnprocessableEntity},
		{"update", http.MethodPut, "/user/1", `{"name":"Alicia"}`, nil, http.StatusOK},
		{"change password mismatch", http.MethodPut, "/user/change-password", `{"id":1,"old_password":"wrong1","new_password":"secret2"}`, nil, http.StatusUnprocessableEntity},
		{"change password missing user", http.MethodPut, "/user/change-password", `{"id":999,"old_password":"secret1","new_password":"secret2"}`, nil, http.StatusNotFound},
		{"login failure", http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"wrongpw"}`, nil, http.StatusUnauthorized},
		{"authenticate", http.MethodPost, "/auth/", `{"access_token":"` + token + `"}`, nil, http.StatusOK},
		{"authenticate garbage", http.MethodPost, "/auth/", `{"access_token":"garbage"}`, nil, http.StatusUnauthorized},
		{"me", http.MethodGet, "/auth/me", "", []string{"Authorization", "Bearer " + token}, http.StatusOK},
		{"me anonymous", http.MethodGet, "/auth/me", "", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			for i := 0; i+1 < len(tt.headers); i += 2 {
				req.Header.Set(tt.headers[i], tt.headers[i+1])
			}

			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			checkContract(t, router, req, rec)
		})
	}
}

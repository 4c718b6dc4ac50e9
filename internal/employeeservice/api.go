// Package employeeservice serves the employee directory behind the gateway.
// Every read is scoped by the authorization engine; the email endpoints are
// internal and used only by the auth service.
package employeeservice

import (
	"net/http"
	"strings"

	"ems.org/internal/audit"
	"ems.org/internal/auth"
	"ems.org/internal/authz"
	"ems.org/internal/employee"
	"ems.org/internal/httpapi"
)

type employeeRequest struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Status       string `json:"status"`
	Role         string `json:"role"`
	DepartmentID string `json:"departmentId"`
}

func (req employeeRequest) record() employee.Employee {
	e := employee.Employee{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Status:       req.Status,
		Role:         auth.Role(req.Role),
		DepartmentID: req.DepartmentID,
	}
	e.Normalize()
	return e
}

type credentialResponse struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Status   string    `json:"status"`
	Role     auth.Role `json:"role"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// API is the employee-service HTTP surface.
type API struct {
	mux         *http.ServeMux
	store       employee.Store
	authz       *authz.Authorizer
	credentials employee.CredentialSource
}

// New mounts the directory routes and the shared health endpoints.
func New(store employee.Store, health httpapi.Health) (*API, error) {
	az, err := authz.NewAuthorizer(store)
	if err != nil {
		return nil, err
	}
	a := &API{
		mux:         http.NewServeMux(),
		store:       store,
		authz:       az,
		credentials: employee.CredentialSource{Store: store},
	}

	health.Mount(a.mux)
	a.mux.HandleFunc("GET /api/employees", a.handleList)
	a.mux.HandleFunc("POST /api/employees", a.handleCreate)
	a.mux.HandleFunc("GET /api/employees/{id}", a.handleGet)
	a.mux.HandleFunc("PUT /api/employees/{id}", a.handleUpdate)
	a.mux.HandleFunc("DELETE /api/employees/{id}", a.handleDelete)
	a.mux.HandleFunc("GET /api/employees/email/{email}", a.handleCredential)
	a.mux.HandleFunc("PUT /api/employees/email/{email}/password", a.handlePassword)
	return a, nil
}

// Handler returns the routes wrapped in the shared middleware.
func (a *API) Handler() http.Handler {
	return httpapi.Standard(a.mux)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	e, err := a.authz.ReadOne(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, e)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	list, err := a.authz.List(r.Context(), p)
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, list)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if err := a.authz.Mutate(r.Context(), p); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	var req employeeRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	if len(req.Password) < 8 {
		httpapi.WriteError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	e := req.record()
	if err := e.Validate(); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	e.PasswordHash = hash

	created, err := a.store.Create(r.Context(), e)
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "employee.created", map[string]any{
		"target_id": created.ID,
		"role":      created.Role.String(),
	})
	httpapi.WriteJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if err := a.authz.Mutate(r.Context(), p); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	var req employeeRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	e := req.record()
	e.ID = r.PathValue("id")
	if err := e.Validate(); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	if req.Password != "" {
		if len(req.Password) < 8 {
			httpapi.WriteError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			httpapi.WriteErrorFor(w, r, err)
			return
		}
		e.PasswordHash = hash
	}

	updated, err := a.store.Update(r.Context(), e)
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "employee.updated", map[string]any{"target_id": updated.ID})
	httpapi.WriteJSON(w, http.StatusOK, updated)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := httpapi.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if err := a.authz.Mutate(r.Context(), p); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := a.store.Delete(r.Context(), id); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "employee.deleted", map[string]any{"target_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleCredential returns the stored hash to the auth service. Anything
// routed through the gateway carries a principal and is refused.
func (a *API) handleCredential(w http.ResponseWriter, r *http.Request) {
	if !internalCall(w, r) {
		return
	}
	cred, err := a.credentials.Lookup(r.Context(), r.PathValue("email"))
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, credentialResponse{
		ID:       cred.ID,
		Email:    cred.Email,
		Password: cred.PasswordHash,
		Status:   cred.Status,
		Role:     cred.Role,
	})
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if !internalCall(w, r) {
		return
	}
	var req passwordRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		httpapi.WriteError(w, r, http.StatusBadRequest, "password hash is required")
		return
	}
	err := a.store.UpdatePassword(r.Context(), r.PathValue("email"), req.Password)
	if err != nil {
		httpapi.WriteErrorFor(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// internalCall refuses requests that carry an end-user identity.
func internalCall(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := auth.PrincipalFromContext(r.Context()); ok {
		httpapi.WriteErrorFor(w, r, auth.ErrForbidden)
		return false
	}
	return true
}

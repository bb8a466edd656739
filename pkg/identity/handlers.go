package identity

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// maxAvatarUpload caps the accepted avatar payload
const maxAvatarUpload = 8 << 20

// defaultListCount is the page size when the count query param is absent
const defaultListCount = 50

// maxListCount caps a single list page
const maxListCount = 500

// Handlers provides HTTP handlers for the identity API
type Handlers struct {
	service *Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandlers creates identity API handlers. metrics may be nil.
func NewHandlers(service *Service, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes registers identity routes on the router.
//
// gorilla/mux matches routes in registration order, so the literal
// paths (/users/indexs, /users/avatar/{id}) must be registered before
// the {indexid}/{typeid} and {id} patterns that would otherwise
// shadow them.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/indexs", h.ListIndexTypes).Methods(http.MethodGet)
	router.HandleFunc("/users/avatar/{id}", h.GetAvatar).Methods(http.MethodGet)
	router.HandleFunc("/users/avatar/{id}", h.StoreAvatar).Methods(http.MethodPost)
	router.HandleFunc("/users/avatar/{id}", h.DeleteAvatar).Methods(http.MethodDelete)

	router.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}/informations", h.UpdateInformations).Methods(http.MethodPut)
	router.HandleFunc("/users/{id}/status", h.UpdateStatus).Methods(http.MethodPut)
	router.HandleFunc("/users/{id}/groups/{groupid}", h.AddGroup).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}/groups/{groupid}", h.RemoveGroup).Methods(http.MethodDelete)
	router.HandleFunc("/users/{id}/indexs", h.CreateIndex).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}/indexs/{typeid}", h.DeleteIndex).Methods(http.MethodDelete)
	router.HandleFunc("/users/{indexid}/{typeid}", h.LookupByIndex).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods(http.MethodDelete)
}

// resolveTarget runs the first two pipeline stages: resolve the path
// identifier (which may be the self sentinel) and authorize the caller
// against the resolved target. No mutation happens before this returns
// true.
func (h *Handlers) resolveTarget(w http.ResponseWriter, r *http.Request, required auth.Permission, selfService bool) (uuid.UUID, bool) {
	token, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return uuid.Nil, false
	}

	caller := middleware.GetAuthContext(r)
	target, err := ResolveOperator(caller, token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return uuid.Nil, false
	}

	if err := Authorize(caller, required, selfService, target); err != nil {
		h.writeDenied(w, required)
		return uuid.Nil, false
	}
	return target, true
}

// authorizeOnly covers operations without a target identity (list, create)
func (h *Handlers) authorizeOnly(w http.ResponseWriter, r *http.Request, required auth.Permission) bool {
	caller := middleware.GetAuthContext(r)
	if err := Authorize(caller, required, false, uuid.Nil); err != nil {
		h.writeDenied(w, required)
		return false
	}
	return true
}

// writeDenied records the denial metric and writes the forbidden
// response. The response body never reveals whether the target exists.
func (h *Handlers) writeDenied(w http.ResponseWriter, required auth.Permission) {
	if h.metrics != nil {
		h.metrics.AuthDeniedTotal.WithLabelValues(string(required)).Inc()
	}
	httputil.WriteForbidden(w, ErrPermissionDenied.Error())
}

// CreateUser handles POST /users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeOnly(w, r, auth.PermissionUsersCreate) {
		return
	}

	var req struct {
		Password     string            `json:"password"`
		Informations map[string]string `json:"informations"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.Password, req.Informations)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"user": user})
}

// GetUser handles GET /users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersGet, false)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// ListUsers handles GET /users with forward-only pagination
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeOnly(w, r, auth.PermissionUsersGet) {
		return
	}

	previous := uuid.Nil
	if token := httputil.ParseQueryString(r, "previous", ""); token != "" {
		id, err := ParseID(token)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		previous = id
	}

	count, err := httputil.ParseQueryInt(r, "count", defaultListCount)
	if err != nil || count <= 0 {
		httputil.WriteBadRequest(w, "count must be a positive integer")
		return
	}
	if count > maxListCount {
		count = maxListCount
	}

	users, err := h.service.ListUsers(r.Context(), previous, count)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// LookupByIndex handles GET /users/{indexid}/{typeid}
func (h *Handlers) LookupByIndex(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeOnly(w, r, auth.PermissionUsersGet) {
		return
	}

	vars := mux.Vars(r)
	value := vars["indexid"]
	typeid := vars["typeid"]

	if !h.service.IndexTypes().Defined(typeid) {
		h.writeServiceError(w, r, undefinedIndexType(typeid))
		return
	}

	users, err := h.service.LookupByIndex(r.Context(), typeid, value)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// UpdateInformations handles PUT /users/{id}/informations. The request
// body is the replacement informations map itself.
func (h *Handlers) UpdateInformations(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	var informations map[string]string
	if !httputil.ParseJSONOrError(w, r, &informations) {
		return
	}

	user, err := h.service.UpdateInformations(r.Context(), target, informations)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// UpdateStatus handles PUT /users/{id}/status. No self-service: users
// cannot re-enable themselves.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, false)
	if !ok {
		return
	}

	var req struct {
		Status bool `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.UpdateStatus(r.Context(), target, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// AddGroup handles POST /users/{id}/groups/{groupid}
func (h *Handlers) AddGroup(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	groupID, ok := h.parseGroupID(w, r)
	if !ok {
		return
	}

	user, err := h.service.AddGroup(r.Context(), target, groupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// RemoveGroup handles DELETE /users/{id}/groups/{groupid}
func (h *Handlers) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	groupID, ok := h.parseGroupID(w, r)
	if !ok {
		return
	}

	user, err := h.service.RemoveGroup(r.Context(), target, groupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

func (h *Handlers) parseGroupID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token, ok := httputil.ParsePathStringOrError(w, r, "groupid")
	if !ok {
		return uuid.Nil, false
	}
	groupID, err := ParseID(token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return uuid.Nil, false
	}
	return groupID, true
}

// DeleteUser handles DELETE /users/{id}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersDelete, true)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), target); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"status": true})
}

// ListIndexTypes handles GET /users/indexs (public discovery)
func (h *Handlers) ListIndexTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"indexs": h.service.ListIndexTypes()})
}

// CreateIndex handles POST /users/{id}/indexs
func (h *Handlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	var req struct {
		TypeID    string          `json:"typeid"`
		Value     string          `json:"value"`
		Extension json.RawMessage `json:"extension"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TypeID, "typeid") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Value, "value") {
		return
	}

	indexes, err := h.service.CreateOrReplaceIndex(r.Context(), target, req.TypeID, req.Value, req.Extension)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"indexs": indexes})
}

// DeleteIndex handles DELETE /users/{id}/indexs/{typeid}
func (h *Handlers) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	typeid, ok := httputil.ParsePathStringOrError(w, r, "typeid")
	if !ok {
		return
	}

	indexes, err := h.service.DeleteIndex(r.Context(), target, typeid)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"indexs": indexes})
}

// StoreAvatar handles POST /users/avatar/{id}. The avatar arrives as a
// multipart form file under the "avatar" field.
func (h *Handlers) StoreAvatar(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarUpload)
	if err := r.ParseMultipartForm(maxAvatarUpload); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		httputil.WriteBadRequest(w, "avatar file is required")
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read avatar file")
		return
	}

	size, err := h.service.StoreAvatar(r.Context(), target, blob)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"size": size})
}

// DeleteAvatar handles DELETE /users/avatar/{id}
func (h *Handlers) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	target, ok := h.resolveTarget(w, r, auth.PermissionUsersUpdate, true)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteAvatar(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"status": deleted})
}

// GetAvatar handles GET /users/avatar/{id} (public). Supports the
// thumbnail query flag and conditional fetch via If-Modified-Since.
func (h *Handlers) GetAvatar(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	target, err := ParseID(token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	wantThumbnail, err := httputil.ParseQueryBool(r, "thumbnail", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	content, err := h.service.FetchAvatar(r.Context(), target, wantThumbnail, r.Header.Get("If-Modified-Since"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	switch content.Status {
	case AvatarNotFound:
		httputil.WriteNotFoundError(w, "avatar not found")
	case AvatarNotModified:
		w.Header().Set("Last-Modified", content.LastModified)
		w.WriteHeader(http.StatusNotModified)
	default:
		w.Header().Set("Content-Type", content.ContentType)
		w.Header().Set("Last-Modified", content.LastModified)
		w.WriteHeader(http.StatusOK)
		w.Write(content.Data)
	}
}

// writeServiceError maps domain errors onto the HTTP status contract:
// InvalidIdentifier and UndefinedIndexType are client errors, NotFound
// is 404, everything else is an opaque 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidIdentifier), errors.Is(err, ErrUndefinedIndexType):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		httputil.WriteForbidden(w, ErrPermissionDenied.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		if h.logger != nil {
			h.logger.WithError(err).WithFields(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Error("identity request failed")
		}
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}

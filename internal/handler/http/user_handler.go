package http

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/school-user-service/internal/user"
)

type UserHandler struct {
	service  user.Service
	validate *validator.Validate
}

func NewUserHandler(service user.Service) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Post("/users", h.handleCreateUser)
	router.Get("/users", h.handleListUsers)
	router.Get("/users/user_filter", h.handleFilterUsers)
	router.Post("/users/user_filter", h.handleFilterUsers)
	router.Get("/users/id/{id}", h.handleGetUserByID)
	router.Get("/users/{login}", h.handleGetUser)
	router.Put("/users/{login}", h.handleReplaceUser)
	router.Patch("/users/{login}", h.handleUpdateUser)
	router.Delete("/users/{login}", h.handleDeleteUser)
}

func (h *UserHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateUserRequest
	if err := decodeJSON(r.Body, &requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithValidationError(w, describeDecodeError(err))
		return
	}

	if !h.validateRequest(w, requestPayload) {
		return
	}

	createdUser, err := h.service.CreateUser(r.Context(), requestPayload.toUser(), requestPayload.Password)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to create user")
		return
	}

	respondWithJSON(w, http.StatusCreated, newUserResponse(createdUser))
}

func (h *UserHandler) handleGetUserByID(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	userID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("user_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	foundUser, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to get user by id")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(foundUser))
}

func (h *UserHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	login, ok := loginParam(w, r)
	if !ok {
		return
	}

	foundUser, err := h.service.GetUserByLogin(r.Context(), login)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to get user")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(foundUser))
}

func (h *UserHandler) handleReplaceUser(w http.ResponseWriter, r *http.Request) {
	login, ok := loginParam(w, r)
	if !ok {
		return
	}

	var requestPayload CreateUserRequest
	if err := decodeJSON(r.Body, &requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode user")
		respondWithValidationError(w, describeDecodeError(err))
		return
	}

	if !h.validateRequest(w, requestPayload) {
		return
	}

	replacedUser, err := h.service.ReplaceUser(r.Context(), login, requestPayload.toUser(), requestPayload.Password)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to update user")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(replacedUser))
}

func (h *UserHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	login, ok := loginParam(w, r)
	if !ok {
		return
	}

	var requestPayload PatchUserRequest
	if err := decodeJSON(r.Body, &requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode user")
		respondWithValidationError(w, describeDecodeError(err))
		return
	}

	if details := requestPayload.nullViolations(); len(details) > 0 {
		respondWithValidationError(w, details...)
		return
	}

	if !h.validateRequest(w, requestPayload) {
		return
	}

	updatedUser, err := h.service.UpdateUser(r.Context(), login, requestPayload.toPatch())
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to update user")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(updatedUser))
}

func (h *UserHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	login, ok := loginParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), login); err != nil {
		respondWithServiceError(w, r, err, "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListUsers reads the filter from the query string: GET /users?type=student&class_name=9A.
func (h *UserHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	requestPayload, err := filterFromQuery(r.URL.Query())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse filter from query")
		respondWithValidationError(w, err.Error())
		return
	}

	h.listUsers(w, r, requestPayload)
}

// handleFilterUsers reads the filter from the JSON body; an empty body matches everyone.
func (h *UserHandler) handleFilterUsers(w http.ResponseWriter, r *http.Request) {
	var requestPayload UserFilterRequest
	if err := decodeJSON(r.Body, &requestPayload); err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("Failed to decode user filter")
		respondWithValidationError(w, describeDecodeError(err))
		return
	}

	h.listUsers(w, r, requestPayload)
}

func (h *UserHandler) listUsers(w http.ResponseWriter, r *http.Request, requestPayload UserFilterRequest) {
	if !h.validateRequest(w, requestPayload) {
		return
	}

	users, err := h.service.ListUsers(r.Context(), requestPayload.toFilter())
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to list users")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserListResponse(users))
}

func (h *UserHandler) validateRequest(w http.ResponseWriter, payload any) bool {
	err := h.validate.Struct(payload)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		respondWithValidationError(w, formatValidationErrors(validationErrors)...)
	} else {
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
	}
	return false
}

// loginParam returns the decoded login from the URL. chi matches against
// r.URL.RawPath when it is set, so only then is the segment still escaped.
func loginParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	login := chi.URLParam(r, "login")
	var err error
	if r.URL.RawPath != "" {
		login, err = url.PathUnescape(login)
	}
	if err != nil || login == "" {
		log.Warn().Err(err).Msg("Failed to parse login parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid login parameter")
		return "", false
	}
	return login, true
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/school-user-service/internal/user"
)

type ValidationErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// respondWithError writes {"error": message} with the given status.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes payload as a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithValidationError(w http.ResponseWriter, details ...string) {
	respondWithJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: details,
	})
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, user.ErrLoginExists):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrPasswordRequired), errors.Is(err, user.ErrInvalidRole):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError maps a service failure to a status and a client-safe message.
// fallback is shown only for internal errors.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)

	var clientMessage string
	switch {
	case errors.Is(err, user.ErrNotFound):
		clientMessage = "User not found"
	case errors.Is(err, user.ErrLoginExists):
		clientMessage = "Login already exists"
	case errors.Is(err, user.ErrPasswordRequired):
		clientMessage = "Password is required"
	case errors.Is(err, user.ErrInvalidRole):
		clientMessage = "Invalid user type"
	default:
		clientMessage = fallback
	}

	if statusCode >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg(fallback)
	} else {
		hlog.FromRequest(r).Warn().Err(err).Int("status", statusCode).Msg(clientMessage)
	}

	respondWithError(w, statusCode, clientMessage)
}

var errTrailingData = errors.New("request body must contain a single JSON object")

// decodeJSON decodes exactly one JSON object and rejects unknown fields.
func decodeJSON(r io.Reader, dst any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}

	return nil
}

// describeDecodeError turns encoding/json failures into a readable detail line.
func describeDecodeError(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "request body contains badly-formed JSON"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("request body contains badly-formed JSON (at position %d)", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Sprintf("field '%s' must be of type %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Sprintf("request body contains an invalid value (at position %d)", typeErr.Offset)
	default:
		// json: unknown field "x", trailing data, custom unmarshalers
		return err.Error()
	}
}

func formatValidationErrors(errs validator.ValidationErrors) []string {
	details := make([]string, 0, len(errs))
	for _, fe := range errs {
		details = append(details, formatFieldError(fe))
	}
	return details
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "min":
		if fe.Param() == "1" {
			return fmt.Sprintf("field '%s' must not be empty", field)
		}
		return fmt.Sprintf("field '%s' must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s characters long", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s]", field, fe.Param())
	case "excludesall":
		return fmt.Sprintf("field '%s' must not contain any of %q", field, fe.Param())
	case "ne":
		return fmt.Sprintf("field '%s' must not be '%s'", field, fe.Param())
	case bcryptLimitTag:
		return fmt.Sprintf("field '%s' must be at most %d bytes long", field, bcryptMaxBytes)
	default:
		return fmt.Sprintf("field '%s' failed on the '%s' rule", field, fe.Tag())
	}
}

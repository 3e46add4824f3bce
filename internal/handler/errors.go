package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/domain"
	"github.com/prn-tf/user-service/internal/picture"
	"github.com/prn-tf/user-service/internal/service"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeInvalidFile         ErrorCode = "invalid_file"
	CodeFileTooLarge        ErrorCode = "file_too_large"
	CodeInvalidImage        ErrorCode = "invalid_image"
	CodeStorageUnavailable  ErrorCode = "storage_unavailable"
	CodeUploadFailed        ErrorCode = "upload_failed"
	CodeUploadInProgress    ErrorCode = "upload_in_progress"
	CodeConflict            ErrorCode = "conflict"
	CodeWeakPassword        ErrorCode = "weak_password"
	CodeInvalidCredentials  ErrorCode = "invalid_credentials"
	CodeAccountLocked       ErrorCode = "account_locked"
	CodeInvalidVerification ErrorCode = "invalid_verification_token"
	CodeNotFound            ErrorCode = "not_found"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeForbidden           ErrorCode = "forbidden"
	CodeInternal            ErrorCode = "internal_error"
)

// APIError is an error with its HTTP representation.
type APIError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int

	// Field names the conflicting field for conflicts.
	Field string

	// Violations lists failed password rules.
	Violations []domain.PasswordViolation
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error      string      `json:"error"`
	Code       ErrorCode   `json:"code"`
	Field      string      `json:"field,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// Violation is one failed password rule.
type Violation struct {
	Code    domain.PasswordViolation `json:"code"`
	Message string                   `json:"message"`
}

// badRequest builds a 400 for malformed input.
func badRequest(msg string) *APIError {
	return &APIError{Code: CodeBadRequest, Message: msg, HTTPStatus: http.StatusBadRequest}
}

// mapError maps a service, domain or component error to its API form.
func mapError(err error) *APIError {
	var (
		apiErr     *APIError
		failure    *service.UploadFailure
		policyErr  *domain.PasswordPolicyError
		conflict   *domain.ConflictError
		validation *picture.ValidationError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr

	case errors.As(err, &failure):
		return mapUploadFailure(failure)

	case errors.Is(err, service.ErrUploadInProgress):
		return &APIError{Code: CodeUploadInProgress, Message: err.Error(), HTTPStatus: http.StatusConflict}

	case errors.As(err, &policyErr):
		return &APIError{
			Code:       CodeWeakPassword,
			Message:    "password does not meet the policy",
			HTTPStatus: http.StatusBadRequest,
			Violations: policyErr.Violations,
		}

	case errors.As(err, &conflict):
		return &APIError{Code: CodeConflict, Message: conflict.Error(), HTTPStatus: http.StatusConflict, Field: string(conflict.Field)}

	case errors.As(err, &validation):
		return mapValidation(validation)

	case errors.Is(err, domain.ErrUserNotFound):
		return &APIError{Code: CodeNotFound, Message: domain.ErrUserNotFound.Error(), HTTPStatus: http.StatusNotFound}

	case errors.Is(err, domain.ErrInvalidCredentials):
		return &APIError{Code: CodeInvalidCredentials, Message: domain.ErrInvalidCredentials.Error(), HTTPStatus: http.StatusUnauthorized}

	case errors.Is(err, domain.ErrAccountLocked):
		return &APIError{Code: CodeAccountLocked, Message: domain.ErrAccountLocked.Error(), HTTPStatus: http.StatusLocked}

	case errors.Is(err, domain.ErrInvalidVerificationToken):
		return &APIError{Code: CodeInvalidVerification, Message: domain.ErrInvalidVerificationToken.Error(), HTTPStatus: http.StatusBadRequest}

	case errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidNickname),
		errors.Is(err, domain.ErrInvalidEmail):
		return badRequest(err.Error())

	case errors.Is(err, domain.ErrAccessDenied):
		return &APIError{Code: CodeForbidden, Message: domain.ErrAccessDenied.Error(), HTTPStatus: http.StatusForbidden}

	default:
		return &APIError{Code: CodeInternal, Message: service.ErrInternalError.Error(), HTTPStatus: http.StatusInternalServerError}
	}
}

func mapUploadFailure(failure *service.UploadFailure) *APIError {
	switch failure.Reason {
	case service.FailureConcurrent:
		return &APIError{Code: CodeUploadInProgress, Message: service.ErrUploadInProgress.Error(), HTTPStatus: http.StatusConflict}
	case service.FailureValidation:
		var validation *picture.ValidationError
		if errors.As(failure.Err, &validation) {
			return mapValidation(validation)
		}
		return &APIError{Code: CodeInvalidFile, Message: failure.Err.Error(), HTTPStatus: http.StatusBadRequest}
	case service.FailureNormalization:
		return &APIError{Code: CodeInvalidImage, Message: failure.Err.Error(), HTTPStatus: http.StatusUnprocessableEntity}
	case service.FailureConfiguration:
		return &APIError{Code: CodeStorageUnavailable, Message: "profile picture storage is not configured", HTTPStatus: http.StatusServiceUnavailable}
	case service.FailureUpload:
		return &APIError{Code: CodeUploadFailed, Message: "failed to store profile picture", HTTPStatus: http.StatusBadGateway}
	case service.FailureLink:
		if errors.Is(failure.Err, domain.ErrUserNotFound) {
			return &APIError{Code: CodeNotFound, Message: domain.ErrUserNotFound.Error(), HTTPStatus: http.StatusNotFound}
		}
	}
	return &APIError{Code: CodeInternal, Message: service.ErrInternalError.Error(), HTTPStatus: http.StatusInternalServerError}
}

func mapValidation(validation *picture.ValidationError) *APIError {
	if validation.Reason == picture.ReasonTooLarge {
		return &APIError{Code: CodeFileTooLarge, Message: validation.Error(), HTTPStatus: http.StatusRequestEntityTooLarge}
	}
	return &APIError{Code: CodeInvalidFile, Message: validation.Error(), HTTPStatus: http.StatusBadRequest}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// writeError writes err as a JSON error response.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	apiErr := mapError(err)
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Debug().Err(err).Int("status", apiErr.HTTPStatus).Msg("request failed")
	}

	resp := ErrorResponse{
		Error: apiErr.Message,
		Code:  apiErr.Code,
		Field: apiErr.Field,
	}
	for _, v := range apiErr.Violations {
		resp.Violations = append(resp.Violations, Violation{Code: v, Message: v.Message()})
	}

	writeJSON(w, apiErr.HTTPStatus, resp)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

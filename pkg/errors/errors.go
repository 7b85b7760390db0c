package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeRateLimit        ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway        ErrorCode = "BAD_GATEWAY"

	// SFU facade error codes.
	ErrCodePublisherNotFound       ErrorCode = "PUBLISHER_NOT_FOUND"
	ErrCodeSubscriberNotFound      ErrorCode = "SUBSCRIBER_NOT_FOUND"
	ErrCodeTrackNotFound           ErrorCode = "TRACK_NOT_FOUND"
	ErrCodePeerConnectionCreation  ErrorCode = "PEER_CONNECTION_CREATION"
	ErrCodeSetRemoteDescription    ErrorCode = "SET_REMOTE_DESCRIPTION"
	ErrCodeCreateAnswer            ErrorCode = "CREATE_ANSWER"
	ErrCodeSetLocalDescription     ErrorCode = "SET_LOCAL_DESCRIPTION"
	ErrCodeAddIceCandidate         ErrorCode = "ADD_ICE_CANDIDATE"
	ErrCodeAddTrack                ErrorCode = "ADD_TRACK"
	ErrCodeBroadcastChannelFull    ErrorCode = "BROADCAST_CHANNEL_FULL"
	ErrCodeBroadcastChannelClosed  ErrorCode = "BROADCAST_CHANNEL_CLOSED"
	ErrCodeConfiguration           ErrorCode = "CONFIGURATION"

	// Signaling error codes.
	ErrCodeAuthenticationFailed  ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeInvalidMessageFormat  ErrorCode = "INVALID_MESSAGE_FORMAT"
	ErrCodePeerNotFound          ErrorCode = "PEER_NOT_FOUND"
	ErrCodeSessionError          ErrorCode = "SESSION_ERROR"
	ErrCodeWebSocket             ErrorCode = "WEBSOCKET"
	ErrCodeSerialization         ErrorCode = "SERIALIZATION"
	ErrCodeSfuError              ErrorCode = "SFU_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// SFU facade error constructors. The HTTP error middleware does not read the
// HTTPStatus set here; it maps codes through HTTPStatusForCode, under which
// these codes answer 500. Signaling replies map them to OFFER_FAILED.

func NewPublisherNotFoundError(publisherID string) *AppError {
	return NewAppError(ErrCodePublisherNotFound, fmt.Sprintf("publisher not found: %s", publisherID), http.StatusNotFound)
}

func NewSubscriberNotFoundError(subscriberID string) *AppError {
	return NewAppError(ErrCodeSubscriberNotFound, fmt.Sprintf("subscriber not found: %s", subscriberID), http.StatusNotFound)
}

func NewTrackNotFoundError(trackID string) *AppError {
	return NewAppError(ErrCodeTrackNotFound, fmt.Sprintf("track not found: %s", trackID), http.StatusNotFound)
}

func NewPeerConnectionCreationError(cause error) *AppError {
	return WrapError(cause, ErrCodePeerConnectionCreation, "failed to create peer connection", http.StatusInternalServerError)
}

func NewSetRemoteDescriptionError(cause error) *AppError {
	return WrapError(cause, ErrCodeSetRemoteDescription, "failed to set remote description", http.StatusInternalServerError)
}

func NewCreateAnswerError(cause error) *AppError {
	return WrapError(cause, ErrCodeCreateAnswer, "failed to create answer", http.StatusInternalServerError)
}

func NewSetLocalDescriptionError(cause error) *AppError {
	return WrapError(cause, ErrCodeSetLocalDescription, "failed to set local description", http.StatusInternalServerError)
}

func NewAddIceCandidateError(cause error) *AppError {
	return WrapError(cause, ErrCodeAddIceCandidate, "failed to add ICE candidate", http.StatusInternalServerError)
}

func NewAddTrackError(cause error) *AppError {
	return WrapError(cause, ErrCodeAddTrack, "failed to add track", http.StatusInternalServerError)
}

func NewBroadcastChannelFullError(trackID string) *AppError {
	return NewAppError(ErrCodeBroadcastChannelFull, fmt.Sprintf("broadcast channel full for track %s", trackID), http.StatusServiceUnavailable)
}

func NewBroadcastChannelClosedError(trackID string) *AppError {
	return NewAppError(ErrCodeBroadcastChannelClosed, fmt.Sprintf("broadcast channel closed for track %s", trackID), http.StatusGone)
}

func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrCodeConfiguration, message, http.StatusInternalServerError)
}

// Signaling error constructors.

func NewAuthenticationFailedError(message string) *AppError {
	return NewAppError(ErrCodeAuthenticationFailed, message, http.StatusUnauthorized)
}

func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrCodeTimeout, message, http.StatusRequestTimeout)
}

func NewInvalidMessageFormatError(message string) *AppError {
	return NewAppError(ErrCodeInvalidMessageFormat, message, http.StatusBadRequest)
}

func NewPeerNotFoundError(name string) *AppError {
	return NewAppError(ErrCodePeerNotFound, fmt.Sprintf("peer not found: %s", name), http.StatusNotFound)
}

func NewSessionError(message string) *AppError {
	return NewAppError(ErrCodeSessionError, message, http.StatusInternalServerError)
}

func NewWebSocketError(cause error) *AppError {
	return WrapError(cause, ErrCodeWebSocket, "websocket error", http.StatusInternalServerError)
}

func NewSerializationError(cause error) *AppError {
	return WrapError(cause, ErrCodeSerialization, "serialization error", http.StatusInternalServerError)
}

// NewSfuError wraps any error returned by the SFU facade for the signaling layer.
func NewSfuError(cause error) *AppError {
	if appErr, ok := cause.(*AppError); ok {
		return WrapError(appErr, ErrCodeSfuError, appErr.Message, httpStatusFor(appErr.Code))
	}
	return WrapError(cause, ErrCodeSfuError, cause.Error(), http.StatusInternalServerError)
}

// httpStatusFor maps an SFU/signaling error code to its HTTP API status:
// AuthenticationFailed->401, PeerNotFound->404, Timeout->408,
// InvalidMessageFormat->400, anything else->500.
func httpStatusFor(code ErrorCode) int {
	switch code {
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodePeerNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeInvalidMessageFormat:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusForCode exposes httpStatusFor's mapping to the HTTP API layer.
func HTTPStatusForCode(code ErrorCode) int {
	return httpStatusFor(code)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	
	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}
	
	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}
	
	return nil
}


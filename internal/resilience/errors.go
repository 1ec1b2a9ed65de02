// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of a failed request to the bot endpoint
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode classifies a failed request
type ErrorCode string

const (
	ErrorCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

var statusCodes = map[ErrorCode]int{
	ErrorCodeBadRequest:         http.StatusBadRequest,
	ErrorCodeUnauthorized:       http.StatusUnauthorized,
	ErrorCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrorCodeInternalError:      http.StatusInternalServerError,
	ErrorCodeServiceUnavailable: http.StatusServiceUnavailable,
}

// Status returns the HTTP status for the code. Unknown codes are 500.
func (c ErrorCode) Status() int {
	if status, ok := statusCodes[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ServiceError carries a message that is safe to show to the caller and the
// internal cause that is only logged
type ServiceError struct {
	Code     ErrorCode
	Message  string
	Internal error
}

// NewError creates a ServiceError
func NewError(code ErrorCode, message string, internal error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Internal: internal}
}

func (e *ServiceError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// StatusCode returns the HTTP status to answer with
func (e *ServiceError) StatusCode() int {
	return e.Code.Status()
}

// ToErrorResponse builds the response body for requestID
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// NewRequestID returns a fresh identifier for correlating logs and error bodies
func NewRequestID() string {
	return uuid.NewString()
}

// AbortWithError logs err and writes it as an ErrorResponse. Errors that are
// not ServiceErrors are reported as internal errors without their details.
func AbortWithError(c *gin.Context, logger *zap.Logger, err error, requestID string) {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		serviceErr = NewError(ErrorCodeInternalError, "An error occurred while processing request", err)
	}

	if logger != nil {
		logger.Warn("Request failed",
			zap.String("request_id", requestID),
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode()),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(serviceErr.StatusCode(), serviceErr.ToErrorResponse(requestID))
}

// Package handlers holds the HTTP handlers and the response envelope shared
// by every endpoint. Success bodies carry {success, data} or
// {success, message}; failures carry {success, error}.
package handlers

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// APIError is the error envelope for every failed request. It implements
// huma.StatusError, so returning one from a handler sets both the status
// code and the serialized body.
type APIError struct {
	status  int
	Success bool   `json:"success"`
	Err     string `json:"error"`
}

func (e *APIError) Error() string  { return e.Err }
func (e *APIError) GetStatus() int { return e.status }

// InitErrors swaps huma's error factory for one producing APIError, so
// validation failures and handler errors share the same envelope. Call once
// before registering operations.
func InitErrors() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		detail := msg
		if len(errs) > 0 {
			parts := make([]string, len(errs))
			for i, e := range errs {
				parts[i] = e.Error()
			}
			detail = msg + ": " + strings.Join(parts, "; ")
		}
		return &APIError{status: status, Success: false, Err: detail}
	}
}

// DataBody wraps a payload in the success envelope.
type DataBody[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// DataOutput is the huma output type for payload-carrying responses.
type DataOutput[T any] struct {
	Body DataBody[T]
}

// OK wraps data in a success envelope.
func OK[T any](data T) *DataOutput[T] {
	return &DataOutput[T]{Body: DataBody[T]{Success: true, Data: data}}
}

// MsgBody is the success envelope for operations with nothing to return,
// such as cancellations.
type MsgBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MsgOutput is the huma output type for message-only responses.
type MsgOutput struct {
	Body MsgBody
}

// Msg wraps a human-readable confirmation in a success envelope.
func Msg(message string) *MsgOutput {
	return &MsgOutput{Body: MsgBody{Success: true, Message: message}}
}

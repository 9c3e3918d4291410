package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是能力边界上允许出现的错误类别，所有内部错误在
// 返回给客户端之前都必须翻译为其中之一。
type Kind string

const (
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	Validation      Kind = "validation"
	Conflict        Kind = "conflict"
	NotFound        Kind = "not_found"
	RateLimited     Kind = "rate_limited"
	Upstream        Kind = "upstream"
	Store           Kind = "store"
)

// Error 携带错误类别与面向调用方的消息，可选包装底层错误。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 构造一个携带类别与消息的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 在保留底层错误的同时附加类别与消息。
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 提取错误的类别；非 *Error 一律视为 Store。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Store
}

// HTTPStatus 将错误类别映射到 HTTP 状态码。
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

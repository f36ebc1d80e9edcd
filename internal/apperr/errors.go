package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识错误类别，决定批处理与 HTTP 层如何处置。
type Kind string

const (
	KindUnknown         Kind = ""
	KindConfiguration   Kind = "configuration"
	KindExternalService Kind = "external_service"
	KindUnparsable      Kind = "unparsable_response"
	KindTaxonomy        Kind = "taxonomy_resolution"
	KindPersistence     Kind = "persistence"
	KindInvalidInput    Kind = "invalid_input"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
)

// Error 携带类别、操作名与底层原因。
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建不带原因的错误。
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap 为 err 附加类别；err 为 nil 时返回 nil。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

type kinded interface {
	Kind() Kind
}

// KindOf 沿错误链查找第一个可识别的类别。
func KindOf(err error) Kind {
	for err != nil {
		switch v := err.(type) {
		case *Error:
			if v.Kind != KindUnknown {
				return v.Kind
			}
		case kinded:
			if k := v.Kind(); k != KindUnknown {
				return k
			}
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// Is 判断 err 是否属于指定类别。
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

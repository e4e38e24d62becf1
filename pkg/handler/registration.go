package handler

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// Resolver maps an error to a problem. Returning nil declines the error and
// lets the next matching registration try.
type Resolver func(h *ExceptionHandler, r *http.Request, err error) *problem.Problem

// Matcher reports whether a registration applies to err.
type Matcher func(err error) bool

type registration struct {
	// key is the error type a Handle registration was made for; nil for HandleFunc.
	key     reflect.Type
	match   Matcher
	resolve Resolver
}

// Handle registers fn for errors whose chain contains a T, as found by
// errors.As. Interface types match every error implementing them, so
// Handle[error] acts as a catch-all. Registering the same T twice replaces the
// earlier resolver in place.
func Handle[T error](fn func(h *ExceptionHandler, r *http.Request, err T) *problem.Problem) Option {
	return func(s *settings) {
		if fn == nil {
			return
		}
		s.registrations = upsert(s.registrations, registration{
			key:     keyOf[T](),
			match:   matches[T],
			resolve: typedResolver(fn),
		}, true)
	}
}

// HandleFunc registers resolve for errors accepted by match.
func HandleFunc(match Matcher, resolve Resolver) Option {
	return func(s *settings) {
		if match == nil || resolve == nil {
			return
		}
		s.registrations = append(s.registrations, registration{match: match, resolve: resolve})
	}
}

func typedResolver[T error](fn func(*ExceptionHandler, *http.Request, T) *problem.Problem) Resolver {
	return func(h *ExceptionHandler, r *http.Request, err error) *problem.Problem {
		var target T
		if !errors.As(err, &target) {
			return nil
		}
		return fn(h, r, target)
	}
}

func matches[T error](err error) bool {
	if err == nil {
		return false
	}
	var target T
	return errors.As(err, &target)
}

func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func upsert(regs []registration, reg registration, replace bool) []registration {
	if reg.key != nil {
		for i := range regs {
			if regs[i].key == reg.key {
				if replace {
					regs[i] = reg
				}
				return regs
			}
		}
	}
	return append(regs, reg)
}

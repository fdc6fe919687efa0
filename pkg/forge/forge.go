// Copyright 2025 RepoRoller Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package forge classifies errors from the forge client and defines the
// typed error vocabulary the rest of the system reports to callers. Every
// forge API error is wrapped with the operation that produced it.
package forge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/google/go-github/v84/github"
)

// Sentinel errors form the caller-visible taxonomy. Rich error types in the
// producing packages wrap these so errors.Is works across the system.
var (
	ErrRepositoryNotFound         = errors.New("repository not found")
	ErrMultipleRepositoriesFound  = errors.New("multiple metadata repositories found")
	ErrInvalidRepositoryStructure = errors.New("invalid metadata repository structure")
	ErrAccessDenied               = errors.New("access denied")
	ErrNetwork                    = errors.New("network error")
	ErrFileNotFound               = errors.New("file not found")
	ErrParse                      = errors.New("parse error")
	ErrOverrideNotPermitted       = errors.New("override not permitted")
	ErrValidationFailed           = errors.New("validation failed")
	ErrRepositoryTypeMismatch     = errors.New("repository type mismatch")
	ErrCreationFailed             = errors.New("creation failed")
	ErrRollbackFailed             = errors.New("rollback failed")
	ErrCancelled                  = errors.New("cancelled")
)

// Class buckets a forge client outcome for retry and failure policy.
type Class int

const (
	ClassUnknown Class = iota
	ClassNotFound
	ClassAuthDenied
	ClassAuthorizationDenied
	ClassRateLimited
	ClassTimeout
	ClassConflict
	ClassNetwork
)

func (c Class) String() string {
	switch c {
	case ClassNotFound:
		return "not-found"
	case ClassAuthDenied:
		return "auth-denied"
	case ClassAuthorizationDenied:
		return "authorization-denied"
	case ClassRateLimited:
		return "rate-limited"
	case ClassTimeout:
		return "timeout"
	case ClassConflict:
		return "conflict"
	case ClassNetwork:
		return "network"
	}
	return "unknown"
}

// Error wraps a forge client failure with the operation that produced it.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps err with op and its outcome class. Returns nil when err is
// nil.
func Classify(op string, rsp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Class: classOf(rsp, err), Err: err}
}

func classOf(rsp *github.Response, err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return ClassRateLimited
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ClassNetwork
	}
	if rsp != nil {
		switch rsp.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return ClassNotFound
		case http.StatusUnauthorized:
			return ClassAuthDenied
		case http.StatusForbidden:
			return ClassAuthorizationDenied
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return ClassConflict
		case http.StatusTooManyRequests:
			return ClassRateLimited
		}
	}
	return ClassUnknown
}

// ClassOf extracts the class of a previously classified error, or
// ClassUnknown.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ClassUnknown
}

// IsNotFound reports whether err is a classified not-found outcome.
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

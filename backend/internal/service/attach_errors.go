package service

import (
	"encoding/json"

	"github.com/elkarte/forum/shared/domain"
)

// ErrorContext collects the user facing errors of one upload request:
// errors about the request as a whole and errors per attachment.
type ErrorContext struct {
	active  bool
	general []domain.AttachError
	attach  map[string]*AttachErrors
	order   []string
}

type AttachErrors struct {
	Id     string               `json:"id"`
	Name   string               `json:"name"`
	Errors []domain.AttachError `json:"errors"`
}

func NewErrorContext() *ErrorContext {
	return &ErrorContext{attach: make(map[string]*AttachErrors)}
}

// Activate marks that an upload was attempted, so errors must be reported
// back to the poster.
func (e *ErrorContext) Activate() {
	e.active = true
}

func (e *ErrorContext) Active() bool {
	return e.active
}

func (e *ErrorContext) AddError(err domain.AttachError) {
	e.general = append(e.general, err)
}

// AddAttach registers an attachment so its errors are reported under name.
func (e *ErrorContext) AddAttach(id, name string) {
	if _, ok := e.attach[id]; ok {
		return
	}
	e.attach[id] = &AttachErrors{Id: id, Name: name}
	e.order = append(e.order, id)
}

func (e *ErrorContext) AddAttachError(id string, err domain.AttachError) {
	a, ok := e.attach[id]
	if !ok {
		e.AddAttach(id, id)
		a = e.attach[id]
	}
	a.Errors = append(a.Errors, err)
}

func (e *ErrorContext) HasErrors() bool {
	if len(e.general) > 0 {
		return true
	}
	for _, a := range e.attach {
		if len(a.Errors) > 0 {
			return true
		}
	}
	return false
}

func (e *ErrorContext) General() []domain.AttachError {
	return e.general
}

// Attachments returns the attachments that have errors, in the order they
// were added.
func (e *ErrorContext) Attachments() []AttachErrors {
	var out []AttachErrors
	for _, id := range e.order {
		if a := e.attach[id]; len(a.Errors) > 0 {
			out = append(out, *a)
		}
	}
	return out
}

func (e *ErrorContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		General     []domain.AttachError `json:"general,omitempty"`
		Attachments []AttachErrors       `json:"attachments,omitempty"`
	}{e.general, e.Attachments()})
}

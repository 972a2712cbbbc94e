package utils

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/elkarte/forum/shared/errors"
	"github.com/elkarte/forum/shared/logger"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	var e *errors.ErrorWithStatusCode
	if stderrors.As(err, &e) {
		http.Error(w, e.Error(), e.StatusCode)
		return
	}
	// default error is 500
	logger.Log.Error("internal error", "error", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func DecodeValidate(r io.ReadCloser, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		logger.Log.Debug("invalid json body", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: 400}
	}
	if err := validate.Struct(body); err != nil {
		logger.Log.Debug("body validation failed", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Required fields missing", StatusCode: 400}
	}
	return nil
}

package utils

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elkarte/forum/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidate(t *testing.T) {
	type TestStruct struct {
		Field1 string `json:"field1" validate:"required"`
		Field2 int    `json:"field2"`
	}

	tests := []struct {
		name        string
		requestBody string
		expectedErr *errors.ErrorWithStatusCode
	}{
		{
			name:        "Valid JSON and Validation",
			requestBody: `{"field1": "value", "field2": 123}`,
		},
		{
			name:        "Invalid JSON",
			requestBody: `{"field1": "value", "field2": 123`,
			expectedErr: &errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: 400},
		},
		{
			name:        "Missing Required Field",
			requestBody: `{"field2": 123}`,
			expectedErr: &errors.ErrorWithStatusCode{Message: "Required fields missing", StatusCode: 400},
		},
		{
			name:        "Empty Body",
			requestBody: "",
			expectedErr: &errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(tt.requestBody)))

			err := DecodeValidate(req.Body, &TestStruct{})

			if tt.expectedErr == nil {
				assert.NoError(t, err)
				return
			}
			e, ok := err.(*errors.ErrorWithStatusCode)
			require.True(t, ok, "Error should be ErrorWithStatusCode")
			assert.Equal(t, tt.expectedErr.Message, e.Message)
			assert.Equal(t, tt.expectedErr.StatusCode, e.StatusCode)
		})
	}
}

func TestWriteErrorAndStatusCode(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteErrorAndStatusCode(rr, &errors.ErrorWithStatusCode{Message: "nope", StatusCode: http.StatusForbidden})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), "nope")
	})

	t.Run("wrapped status error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		err := fmt.Errorf("lookup: %w", &errors.ErrorWithStatusCode{Message: "gone", StatusCode: http.StatusNotFound})
		WriteErrorAndStatusCode(rr, err)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("plain error is 500", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteErrorAndStatusCode(rr, fmt.Errorf("db down"))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "db down")
	})
}

package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"},
		"person": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string"}
			}
		}
	}
}`

func TestValidateJSONString_Valid(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"name": "test"}`)
	assert.NoError(t, err)
}

func TestValidateJSONString_Invalid(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"age": 30}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
	assert.Equal(t, "(root)", validationErr.Errors[0].Field)
}

func TestValidateJSONString_WrongType(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"name": 42}`)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "name", validationErr.Errors[0].Field)
}

func TestValidateJSONString_NestedField(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"name": "a", "person": {}}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	found := false
	for _, fieldErr := range validationErr.Errors {
		if fieldErr.Field == "person" {
			found = true
			break
		}
	}
	assert.True(t, found, "should include field path in error")
}

func TestValidateJSONString_MalformedSchema(t *testing.T) {
	err := ValidateJSONString(`{ not a schema`, `{}`)

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "(string schema)", loadErr.Path)
}

func TestValidateJSONBytes(t *testing.T) {
	assert.NoError(t, ValidateJSONBytes(personSchema, []byte(`{"name": "x"}`), "config.json"))

	err := ValidateJSONBytes(personSchema, []byte(`{}`), "config.json")
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "config.json", validationErr.Source)
	assert.Contains(t, err.Error(), "validation of config.json failed")

	err = ValidateJSONBytes(personSchema, []byte(`{ invalid json }`), "broken.json")
	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "broken.json", loadErr.Path)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "name", Message: "is required"},
			{Field: "age", Message: "must be a number"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "name")
	assert.Contains(t, errorMsg, "age")
}

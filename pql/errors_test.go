package pql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, 400, KindInvalidQuery.HTTPStatus())
	assert.Equal(t, 400, KindInvalidEmbedding.HTTPStatus())
	assert.Equal(t, 400, KindInvalidParameters.HTTPStatus())
	assert.Equal(t, 404, KindNotFound.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
}

func TestPqlError_ErrorMessage(t *testing.T) {
	err := InvalidQueryf("bad filter: %s", "empty tree")
	assert.Equal(t, `pql[invalid_query]: bad filter: empty tree`, err.Error())
}

func TestPqlError_WithCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Internalf("wrap failed").WithCause(cause)
	assert.Contains(t, err.Error(), "underlying failure")
	assert.ErrorIs(t, err, cause)
}

func TestPqlError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NotFoundf("missing item").WithCause(cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestConstructors_SetExpectedKind(t *testing.T) {
	assert.Equal(t, KindInvalidQuery, InvalidQueryf("x").Kind)
	assert.Equal(t, KindInvalidEmbedding, InvalidEmbeddingf("x").Kind)
	assert.Equal(t, KindInvalidParameters, InvalidParametersf("x").Kind)
	assert.Equal(t, KindInternal, Internalf("x").Kind)
	assert.Equal(t, KindNotFound, NotFoundf("x").Kind)
}

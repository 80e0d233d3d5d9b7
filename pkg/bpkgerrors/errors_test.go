package bpkgerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConflict_CarriesCode(t *testing.T) {
	err := NewConflict("pkg:requests")
	assert.Equal(t, CodeConflict, err.Code())
	assert.Contains(t, err.Error(), "requests")
}

func TestNewLocked_CarriesHolderFields(t *testing.T) {
	err := NewLocked(1234, "host-a")
	assert.Equal(t, 1234, err.HolderPID)
	assert.Equal(t, "host-a", err.HolderHost)
	assert.Equal(t, CodeLocked, err.Code())
}

func TestInstallFailedErr_UnwrapsCause(t *testing.T) {
	cause := errors.New("pip exited 1")
	err := NewInstallFailed("build", "tail of stderr", cause)

	assert.Equal(t, "build", err.Phase)
	assert.ErrorIs(t, err, cause)
}

func TestErrorsAs_MatchesConcreteType(t *testing.T) {
	var err error = NewBubbleNotFound("requests", "2.31.0")

	var notFound *BubbleNotFoundErr
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, CodeBubbleNotFound, notFound.Code())
}

func TestMessage_FallsBackToEnglishForUnknownLanguage(t *testing.T) {
	err := NewConflict("pkg:requests")
	msg := err.Message("xx-not-a-real-tag")
	assert.Contains(t, msg, "CONFLICT")
}

func TestMessage_LocalizesKnownCodes(t *testing.T) {
	err := NewLocked(1, "host")
	msg := err.Message("es")
	assert.Contains(t, msg, "bloqueado")
}

func TestCodedErrorInterface_Satisfied(t *testing.T) {
	var _ CodedError = NewUserError("bad spec")
	var _ CodedError = NewSchemaMismatch(2, 1)
	var _ CodedError = NewCancelled("user requested stop")
}

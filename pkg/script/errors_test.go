package script

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	class, he := Classify(nil)
	assert.Equal(t, ClassNone, class)
	assert.Nil(t, he)

	class, he = Classify(fmt.Errorf("wrapped: %w", &HandlerError{Kind: KindForbidden, Status: 403, Message: "no"}))
	assert.Equal(t, ClassHandler, class)
	assert.Equal(t, 403, he.Status)

	class, he = Classify(&AbortError{})
	assert.Equal(t, ClassAbort, class)
	assert.Nil(t, he)

	class, he = Classify(ErrTimeout)
	assert.Equal(t, ClassTimeout, class)
	assert.Equal(t, 504, he.Status)
	assert.Equal(t, "handler execution timed out", he.Message)

	class, he = Classify(&ThrownError{Message: "TypeError: x"})
	assert.Equal(t, ClassUnclassified, class)
	assert.Equal(t, 500, he.Status)
	assert.Equal(t, "TypeError: x", he.Message)

	class, _ = Classify(errors.New("other"))
	assert.Equal(t, ClassUnclassified, class)
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindNotFound, KindForStatus(404))
	assert.Equal(t, KindPayloadTooLarge, KindForStatus(413))
	assert.Equal(t, KindCustom, KindForStatus(418))
}

func TestHandlerError_Error(t *testing.T) {
	assert.Equal(t, "not_found (404): gone", (&HandlerError{Kind: KindNotFound, Status: 404, Message: "gone"}).Error())
	assert.Equal(t, "not_found (404)", (&HandlerError{Kind: KindNotFound, Status: 404}).Error())
}

package humidity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbsoluteAtReferencePoints(t *testing.T) {
	assert.InDelta(t, 11.5, Absolute(25, 50), 0.2)
	assert.InDelta(t, 4.85, Absolute(0, 100), 0.1)
}

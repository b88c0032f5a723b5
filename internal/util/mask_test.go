package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "", MaskEmail(""))
	assert.Equal(t, "j…@c….test", MaskEmail("jane@clinic.test"))
	assert.Equal(t, "a@c….test", MaskEmail("a@clinic.test"))
	assert.Equal(t, "j…@c….test", MaskEmail("  JANE@Clinic.Test "))
	assert.Equal(t, "***", MaskEmail("ab"))
	assert.Equal(t, "n…l", MaskEmail("not-an-email"))
}

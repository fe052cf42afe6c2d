package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	assert.InDelta(t, 12.5, ToFloat64(12.5), 1e-9)
	assert.InDelta(t, 7, ToFloat64(7), 1e-9)
	assert.InDelta(t, 3.25, ToFloat64(" 3.25 "), 1e-9)
	assert.InDelta(t, 9, ToFloat64(json.Number("9")), 1e-9)
	assert.InDelta(t, 0, ToFloat64(nil), 1e-9)
	assert.InDelta(t, 0, ToFloat64("abc"), 1e-9)
	assert.InDelta(t, 0, ToFloat64([]int{1}), 1e-9)
}

func TestToFloat64Strict(t *testing.T) {
	v, err := ToFloat64Strict("42.5")
	assert.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)

	_, err = ToFloat64Strict("NaN")
	assert.Error(t, err)
	_, err = ToFloat64Strict("+Inf")
	assert.Error(t, err)
	_, err = ToFloat64Strict("not a number")
	assert.Error(t, err)
	_, err = ToFloat64Strict(map[string]any{})
	assert.Error(t, err)
}

func TestToString(t *testing.T) {
	assert.Equal(t, "7421", ToString(float64(7421)), "integral floats keep their id form")
	assert.Equal(t, "7421.5", ToString(7421.5))
	assert.Equal(t, "abc", ToString(" abc "))
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "99", ToString(99))
	assert.Equal(t, "12", ToString(json.Number("12")))
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 25, ToInt("25"))
	assert.Equal(t, 25, ToInt(25.9))
	assert.Equal(t, 0, ToInt(nil))
}

package amount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint64
	}{
		{"one token", "1.00", 1_000_000},
		{"fifty cents", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"minimum reward", "0.01", 10_000},
		{"no whole part", ".5", 500_000},
		{"leading zeros", "007.50", 7_500_000},
		{"truncates beyond six decimals", "1.1234567", 1_123_456},
		{"zero", "0.000000", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			require.True(t, ok)
			assert.Equal(t, FromUnits(tt.expected), got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"-1", "+1", "1.2.3", "abc", "1e6", ".", "1_000"} {
		_, ok := Parse(in)
		assert.False(t, ok, "Parse(%q) should fail", in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.000000", Zero().String())
	assert.Equal(t, "0.000001", FromUnits(1).String())
	assert.Equal(t, "58.800000", MustParse("58.8").String())
	assert.Equal(t, "1000.000000", Tokens(1000).String())
}

func TestSaturatingArithmetic(t *testing.T) {
	a := Tokens(10)
	b := Tokens(3)

	assert.Equal(t, Tokens(13), a.Add(b))
	assert.Equal(t, Tokens(7), a.Sub(b))
	assert.True(t, b.Sub(a).IsZero(), "subtraction clamps at zero")
	assert.Equal(t, Max(), Max().Add(FromUnits(1)), "addition clamps at max")

	_, ok := b.CheckedSub(a)
	assert.False(t, ok)
	d, ok := a.CheckedSub(b)
	assert.True(t, ok)
	assert.Equal(t, Tokens(7), d)
}

func TestBPS(t *testing.T) {
	assert.Equal(t, Tokens(100), Tokens(1000).BPS(1000))
	assert.Equal(t, MustParse("1.2"), MustParse("60").BPS(200))
	assert.Equal(t, MustParse("0.8"), MustParse("40").BPS(200))
	// 2% of 0.000049 is 0.00000098, floored to zero
	assert.True(t, FromUnits(49).BPS(200).IsZero())
}

func TestMulRatio(t *testing.T) {
	assert.Equal(t, Tokens(25), Tokens(100).MulRatio(FromUnits(1), FromUnits(4)))
	assert.True(t, Tokens(100).MulRatio(FromUnits(1), Zero()).IsZero())
	assert.Equal(t, Max(), Max().MulDiv(2, 1))
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Stake Amount `json:"stake"`
	}
	b, err := json.Marshal(wrapper{Stake: MustParse("1000.5")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stake":"1000.500000"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"stake":"42.1"}`), &w))
	assert.Equal(t, MustParse("42.1"), w.Stake)

	assert.Error(t, json.Unmarshal([]byte(`{"stake":42}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"stake":"-1"}`), &w))
}

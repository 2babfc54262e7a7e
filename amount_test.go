package tbcpay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"15.5", 1550, false},
		{"15.50", 1550, false},
		{"15", 1500, false},
		{"0.07", 7, false},
		{".5", 50, false},
		{"1.", 100, false},
		{"-3.25", -325, false},
		{"+3.25", 325, false},
		{" 10.00 ", 1000, false},
		{"10.005", 0, true},
		{"1e2", 10000, false},
		{"1e1", 1000, false},
		{"1.55E1", 1550, false},
		{"-2.5e-1", -25, false},
		{"1550e-2", 1550, false},
		{"1.555e1", 0, true},
		{"1e-3", 0, true},
		{"1e", 0, true},
		{"e5", 0, true},
		{"1e99", 0, true},
		{"1/2e1", 0, true},
		{"--1e1", 0, true},
		{"", 0, true},
		{"-", 0, true},
		{".", 0, true},
		{"abc", 0, true},
		{"1.2.3", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountFromFloat(t *testing.T) {
	a, err := AmountFromFloat(15.5)
	require.NoError(t, err)
	assert.EqualValues(t, 1550, a)

	_, err = AmountFromFloat(0.1 + 0.2)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "15.50", Amount(1550).String())
	assert.Equal(t, "0.07", Amount(7).String())
	assert.Equal(t, "-1.05", Amount(-105).String())
	assert.Equal(t, "0.00", Amount(0).String())
}

func TestAmount_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{MustAmount(15.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":15.5}`, string(b))

	var in struct {
		Total Amount `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"total":"12.3"}`), &in))
	assert.EqualValues(t, 1230, in.Total)
	require.NoError(t, json.Unmarshal([]byte(`{"total":7}`), &in))
	assert.EqualValues(t, 700, in.Total)
	assert.Error(t, json.Unmarshal([]byte(`{"total":1.234}`), &in))
}

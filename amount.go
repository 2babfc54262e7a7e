package tbcpay

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MinorUnits is the number of minor units (tetri) in one lari.
const MinorUnits = 100

const fractionDigits = 2

// Amount is a money value in minor units.
//
// Prices and totals are kept as integers so that comparing a submitted total with the
// sum of the cart is an exact integer comparison.
type Amount int64

// maxExponent bounds exponent notation; anything larger does not fit in an Amount.
const maxExponent = 20

// ParseAmount parses a decimal string such as "15.5", "-0.07" or "1.55e1".
// Values with more than two fractional digits and non-numeric input are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(ErrInvalidAmount, "empty")
	}
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		return parseExponent(s, i)
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if len(fracPart) > fractionDigits {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q has more than %d fractional digits", s, fractionDigits)
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	for len(fracPart) < fractionDigits {
		fracPart += "0"
	}
	if intPart == "" {
		intPart = "0"
	}
	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || major > math.MaxInt64/MinorUnits-1 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is out of range", s)
	}
	minor, _ := strconv.ParseInt(fracPart, 10, 64)
	v := major*MinorUnits + minor
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// parseExponent handles JSON numbers such as "1e1" or "1.55E1"; e is the index of
// the exponent marker.
func parseExponent(s string, e int) (Amount, error) {
	exp, err := strconv.Atoi(s[e+1:])
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if exp > maxExponent || exp < -maxExponent {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is out of range", s)
	}
	mantissa := s[:e]
	if strings.ContainsAny(mantissa, "eE/") || strings.TrimLeft(mantissa, "+-") == "" {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	unsigned := strings.TrimLeft(mantissa, "+-")
	if len(mantissa)-len(unsigned) > 1 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	intPart, fracPart := unsigned, ""
	if i := strings.IndexByte(unsigned, '.'); i >= 0 {
		intPart, fracPart = unsigned[:i], unsigned[i+1:]
	}
	if (intPart == "" && fracPart == "") || !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		fracPart = "0"
	}
	sign := ""
	if mantissa[0] == '-' {
		sign = "-"
	}

	r, ok := new(big.Rat).SetString(sign + intPart + "." + fracPart + "e" + strconv.Itoa(exp))
	if !ok {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	r.Mul(r, big.NewRat(MinorUnits, 1))
	if !r.IsInt() {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q has more than %d fractional digits", s, fractionDigits)
	}
	n := r.Num()
	if !n.IsInt64() || n.Int64() > math.MaxInt64-MinorUnits || n.Int64() < -(math.MaxInt64-MinorUnits) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is out of range", s)
	}
	return Amount(n.Int64()), nil
}

// AmountFromFloat converts f using its shortest decimal representation,
// so 15.5 becomes 1550 and 0.1+0.2 is rejected.
func AmountFromFloat(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrap(ErrInvalidAmount, "not a finite number")
	}
	return ParseAmount(strconv.FormatFloat(f, 'f', -1, 64))
}

// MustAmount is like AmountFromFloat but panics on error. Intended for literals.
func MustAmount(f float64) Amount {
	a, err := AmountFromFloat(f)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Float64() float64 {
	return float64(a) / MinorUnits
}

// String returns the amount with exactly two fractional digits.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	frac := strconv.FormatInt(v%MinorUnits, 10)
	if len(frac) < fractionDigits {
		frac = "0" + frac
	}
	return sign + strconv.FormatInt(v/MinorUnits, 10) + "." + frac
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

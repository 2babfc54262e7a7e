package tbcpay

import "errors"

var (
	ErrInvalidProduct = errors.New("product structure or contents are invalid")
	ErrNoProducts     = errors.New("no products in cart")
	ErrPriceMismatch  = errors.New("products price sum and total price are different")
	ErrInvalidAmount  = errors.New("invalid amount")
)

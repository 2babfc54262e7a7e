package tbcpay

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Product is a cart entry candidate as it arrives from a caller: a decoded JSON
// object or a map literal with the keys "name", "price" and "quantity".
type Product map[string]interface{}

// LineItem is a validated cart entry.
type LineItem struct {
	Name     string `json:"name"`
	Price    Amount `json:"price"`
	Quantity int    `json:"quantity"`
}

// Ledger holds the cart submitted with an installment application.
//
// Total is the sum of item prices. Quantity is passed through to the bank as is and
// is not multiplied into the total.
//
// Ledger is not safe for concurrent use.
type Ledger struct {
	items []LineItem
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// ValidateProduct reports whether p has a string name, a float price and an integer
// quantity. Negative prices and quantities are not checked.
func ValidateProduct(p Product) bool {
	_, err := parseProduct(p)
	return err == nil
}

func (l *Ledger) ValidateProduct(p Product) bool {
	return ValidateProduct(p)
}

// AddItem validates p and appends it to the cart.
// The cart is left untouched if p is invalid.
func (l *Ledger) AddItem(p Product) error {
	item, err := parseProduct(p)
	if err != nil {
		return err
	}
	l.items = append(l.items, item)
	return nil
}

// AddItems appends all of ps or none of them.
func (l *Ledger) AddItems(ps []Product) error {
	batch := make([]LineItem, 0, len(ps))
	for i, p := range ps {
		item, err := parseProduct(p)
		if err != nil {
			return errors.Wrapf(err, "product #%d", i)
		}
		batch = append(batch, item)
	}
	l.items = append(l.items, batch...)
	return nil
}

func (l *Ledger) Total() Amount {
	var total Amount
	for _, item := range l.items {
		total += item.Price
	}
	return total
}

// ValidateTotal reports whether expected is exactly the cart total.
func (l *Ledger) ValidateTotal(expected Amount) bool {
	return l.Total() == expected
}

// Items returns a copy of the cart in insertion order.
func (l *Ledger) Items() []LineItem {
	out := make([]LineItem, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Ledger) Len() int {
	return len(l.items)
}

func (l *Ledger) Reset() {
	l.items = nil
}

func parseProduct(p Product) (LineItem, error) {
	var item LineItem
	if p == nil {
		return item, errors.Wrap(ErrInvalidProduct, "nil product")
	}
	rawName, okName := p["name"]
	rawPrice, okPrice := p["price"]
	rawQuantity, okQuantity := p["quantity"]
	if !okName || !okPrice || !okQuantity {
		return item, errors.Wrap(ErrInvalidProduct, "name, price and quantity are required")
	}

	name, ok := rawName.(string)
	if !ok || name == "" {
		return item, errors.Wrap(ErrInvalidProduct, "name must be a non-empty string")
	}
	price, err := priceOf(rawPrice)
	if err != nil {
		return item, err
	}
	quantity, err := quantityOf(rawQuantity)
	if err != nil {
		return item, err
	}

	item.Name = name
	item.Price = price
	item.Quantity = quantity
	return item, nil
}

func priceOf(v interface{}) (Amount, error) {
	var (
		a   Amount
		err error
	)
	switch x := v.(type) {
	case float64:
		a, err = AmountFromFloat(x)
	case float32:
		// shortest representation at float32 precision, so float32(10.1) is 10.1
		a, err = ParseAmount(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case json.Number:
		a, err = ParseAmount(x.String())
	case Amount:
		a = x
	default:
		return 0, errors.Wrapf(ErrInvalidProduct, "price must be a float, got %T", v)
	}
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidProduct, "price: %v", err)
	}
	return a, nil
}

func quantityOf(v interface{}) (int, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt32 {
			return 0, errors.Wrap(ErrInvalidProduct, "quantity is out of range")
		}
		n = int64(x)
	case uint64:
		if x > math.MaxInt32 {
			return 0, errors.Wrap(ErrInvalidProduct, "quantity is out of range")
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidProduct, "quantity must be an integer, got %q", x.String())
		}
		n = i
	default:
		return 0, errors.Wrapf(ErrInvalidProduct, "quantity must be an integer, got %T", v)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, errors.Wrap(ErrInvalidProduct, "quantity is out of range")
	}
	return int(n), nil
}

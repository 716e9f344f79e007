package domain

import (
	"encoding/json"
	"regexp"

	"github.com/shopspring/decimal"

	dErrors "myapi/pkg/domain-errors"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// MaxMoneyScale is the number of fractional digits an amount may carry.
const MaxMoneyScale = 2

// Money is an exact decimal amount in an ISO 4217 currency. Arithmetic never
// crosses currencies.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney validates the currency code and scale.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if !currencyPattern.MatchString(currency) {
		return Money{}, dErrors.New(dErrors.CodeInvalidInput, "currency must be a 3-letter ISO 4217 code")
	}
	if -amount.Exponent() > MaxMoneyScale && !amount.Equal(amount.Round(MaxMoneyScale)) {
		return Money{}, dErrors.New(dErrors.CodeInvalidInput, "amount has too many decimal places")
	}
	return Money{amount: amount, currency: currency}, nil
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "amount must be a decimal number")
	}
	return NewMoney(d, currency)
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }

// String renders the amount with two fractional digits and the currency.
func (m Money) String() string {
	return m.amount.StringFixed(MaxMoneyScale) + " " + m.currency
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Mul scales the amount by an integer quantity.
func (m Money) Mul(n int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(n)), currency: m.currency}
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return dErrors.New(dErrors.CodeInvalidInput, "currency mismatch: "+m.currency+" vs "+other.currency)
	}
	return nil
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders the zero value as null.
func (m Money) MarshalJSON() ([]byte, error) {
	if m.currency == "" && m.amount.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(MaxMoneyScale), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Money{}
		return nil
	}
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "money must be an object with amount and currency")
	}
	parsed, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

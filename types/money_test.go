package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(99), 99, "usd", "$0.99"},
		{"EUR", EUR(499), 499, "eur", "€4.99"},
		{"GBP", GBP(79), 79, "gbp", "£0.79"},
		{"JPY", JPY(120), 120, "jpy", "¥120"},
		{"New uppercases folded", New(1999, "CAD"), 1999, "cad", "C$19.99"},
		{"Unknown currency", New(500, "brl"), 500, "brl", "BRL 5.00"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		currency string
		want     Money
		wantErr  bool
	}{
		{"cents", "0.99", "USD", USD(99), false},
		{"whole", "4", "usd", USD(400), false},
		{"one fractional digit", "4.5", "eur", EUR(450), false},
		{"leading dot", ".25", "usd", USD(25), false},
		{"negative", "-1.10", "usd", USD(-110), false},
		{"yen", "120", "jpy", JPY(120), false},
		{"yen with fraction", "120.5", "jpy", Money{}, true},
		{"too many digits", "0.999", "usd", Money{}, true},
		{"garbage", "abc", "usd", Money{}, true},
		{"empty", "", "usd", Money{}, true},
		{"no currency", "1.00", "", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.input, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money Money
		want  string
	}{
		{USD(99), "0.99"},
		{USD(-5), "-0.05"},
		{USD(100000), "1000.00"},
		{JPY(120), "120"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	if !Zero("usd").IsZero() {
		t.Error("zero should be zero")
	}
	if !USD(1).IsPositive() || USD(1).IsNegative() {
		t.Error("USD(1) should be positive")
	}
	if !USD(-1).IsNegative() {
		t.Error("USD(-1) should be negative")
	}
	if USD(1).Equal(EUR(1)) {
		t.Error("different currencies should not be equal")
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(99))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["display"] != "$0.99" {
		t.Errorf("display: got %v", decoded["display"])
	}
	if decoded["currency"] != "usd" {
		t.Errorf("currency: got %v", decoded["currency"])
	}
}

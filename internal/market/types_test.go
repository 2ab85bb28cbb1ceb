package market

import (
	"testing"
	"time"
)

func TestTickValidate(t *testing.T) {
	valid := Tick{Time: time.Now(), Bid: 1.1000, Ask: 1.1002}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid tick rejected: %v", err)
	}

	cases := map[string]Tick{
		"zero bid":      {Bid: 0, Ask: 1.1},
		"negative bid":  {Bid: -1, Ask: 1.1},
		"crossed quote": {Bid: 1.2, Ask: 1.1},
		"equal quote":   {Bid: 1.1, Ask: 1.1},
	}
	for name, tick := range cases {
		if err := tick.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestTickMid(t *testing.T) {
	tick := Tick{Bid: 1.1000, Ask: 1.1002}
	if got := tick.Mid(); got != 1.1001 {
		t.Fatalf("expected mid 1.1001, got %f", got)
	}
}

func TestBarValidate(t *testing.T) {
	valid := Bar{Open: 1.1, High: 1.2, Low: 1.05, Close: 1.15, Volume: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid bar rejected: %v", err)
	}

	cases := map[string]Bar{
		"high below low":   {Open: 1.1, High: 1.0, Low: 1.05, Close: 1.1, Volume: 1},
		"high below close": {Open: 1.1, High: 1.1, Low: 1.0, Close: 1.2, Volume: 1},
		"low above open":   {Open: 1.0, High: 1.2, Low: 1.1, Close: 1.15, Volume: 1},
		"negative volume":  {Open: 1.1, High: 1.2, Low: 1.0, Close: 1.1, Volume: -1},
		"zero price":       {Open: 0, High: 1.2, Low: 1.0, Close: 1.1, Volume: 1},
	}
	for name, bar := range cases {
		if err := bar.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestBarIsFlat(t *testing.T) {
	flat := Bar{Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1, Volume: 0}
	if !flat.IsFlat() {
		t.Fatal("expected flat bar")
	}
	live := Bar{Open: 1.1, High: 1.2, Low: 1.05, Close: 1.15, Volume: 3}
	if live.IsFlat() {
		t.Fatal("expected live bar")
	}
}

func TestParseChannel(t *testing.T) {
	symbol, timeframe := ParseChannel("EURUSD")
	if symbol != "EURUSD" || timeframe != "" {
		t.Fatalf("tick channel parsed as %q/%q", symbol, timeframe)
	}
	symbol, timeframe = ParseChannel("EURUSD_M15")
	if symbol != "EURUSD" || timeframe != "M15" {
		t.Fatalf("bar channel parsed as %q/%q", symbol, timeframe)
	}
}

func TestPipSize(t *testing.T) {
	cases := map[string]float64{
		"EURUSD": 0.0001,
		"USDJPY": 0.01,
		"XAUUSD": 0.1,
		"BTCUSD": 1.0,
		"USOUSD": 1.0,
	}
	for symbol, want := range cases {
		if got := PipSize(symbol); got != want {
			t.Errorf("%s: expected pip %f, got %f", symbol, want, got)
		}
	}
}

func TestValidateSymbol(t *testing.T) {
	if err := ValidateSymbol("EURUSD"); err != nil {
		t.Fatalf("supported symbol rejected: %v", err)
	}
	if err := ValidateSymbol("FOOBAR"); err == nil {
		t.Fatal("expected error for unsupported symbol")
	}
}

func TestTimeframeDuration(t *testing.T) {
	d, err := TimeframeDuration("H4")
	if err != nil {
		t.Fatalf("H4: %v", err)
	}
	if d != 4*time.Hour {
		t.Fatalf("expected 4h, got %v", d)
	}
	if _, err := TimeframeDuration("M7"); err == nil {
		t.Fatal("expected error for unknown timeframe")
	}
}

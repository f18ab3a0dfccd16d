package risk

import "testing"

func TestCheck_WithinLimits(t *testing.T) {
	l := NewLimiter(100, 300)
	positions := map[string]int64{"AAPL": 50, "MSFT": 100}

	if err := l.Check("AAPL", 40, positions); err != nil {
		t.Errorf("90 <= 100 per-symbol and 190 <= 300 gross, got %v", err)
	}
}

func TestCheck_PerSymbolBreach(t *testing.T) {
	l := NewLimiter(100, 0)
	positions := map[string]int64{"AAPL": 80}

	if err := l.Check("AAPL", 30, positions); err != ErrPerSymbolLimitExceeded {
		t.Errorf("expected ErrPerSymbolLimitExceeded, got %v", err)
	}
}

func TestCheck_PerSymbolAbsolute(t *testing.T) {
	l := NewLimiter(100, 0)
	positions := map[string]int64{"AAPL": -80}

	// Selling deeper into a short breaches on absolute size.
	if err := l.Check("AAPL", -30, positions); err != ErrPerSymbolLimitExceeded {
		t.Errorf("expected ErrPerSymbolLimitExceeded for short breach, got %v", err)
	}
	// Buying reduces the short: fine.
	if err := l.Check("AAPL", 30, positions); err != nil {
		t.Errorf("reducing exposure must pass, got %v", err)
	}
}

func TestCheck_GrossBreach(t *testing.T) {
	l := NewLimiter(0, 200)
	positions := map[string]int64{"AAPL": 100, "MSFT": -80}

	if err := l.Check("GOOG", 30, positions); err != ErrGrossLimitExceeded {
		t.Errorf("expected ErrGrossLimitExceeded at gross 210, got %v", err)
	}
}

func TestCheck_ZeroLimitsDisabled(t *testing.T) {
	l := NewLimiter(0, 0)
	positions := map[string]int64{"AAPL": 1000000}

	if err := l.Check("AAPL", 1000000, positions); err != nil {
		t.Errorf("zero limits must disable checks, got %v", err)
	}
}

package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatMinor печатает сумму в минимальных единицах как десятичную с двумя знаками.
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseMinor разбирает "10.5" / "10.50" / "10" в минимальные единицы.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrPriceInvalid)
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		return 0, fmt.Errorf("%w: %s", ErrPriceInvalid, s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: more than two decimal places in %s", ErrPriceInvalid, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrPriceInvalid, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrPriceInvalid, s)
	}
	return w*100 + f, nil
}

package lexer

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ParseNumber converts a string to a number the way tonumber and string
// arithmetic coercion do: surrounding whitespace and one leading sign are
// allowed, then a decimal or hexadecimal numeral.
func ParseNumber(s string) (float64, bool) {
	s = strings.Trim(s, " \t\n\r\v\f")
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	v, ok := parseNumeral(s)
	if !ok {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func parseNumeral(s string) (float64, bool) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return parseHex(s[2:])
	}
	return parseDecimal(s)
}

// parseDecimal validates the numeral itself; strconv would also accept
// "inf", "nan" and underscores.
func parseDecimal(s string) (float64, bool) {
	i, digits := 0, 0
	for i < len(s) && isDigit(rune(s[i])) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(rune(s[i])) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		expDigits := 0
		for i < len(s) && isDigit(rune(s[i])) {
			i++
			expDigits++
		}
		if expDigits == 0 {
			return 0, false
		}
	}
	if i != len(s) {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && ne.Err == strconv.ErrRange {
			return v, true
		}
		return 0, false
	}
	return v, true
}

// parseHex handles the part after "0x". Integral hex numerals wrap
// modulo 2^64 like Lua 5.3 integers; anything with a fraction or a 'p'
// exponent is a float.
func parseHex(s string) (float64, bool) {
	var mant float64
	var intVal uint64
	exp := 0
	anyDigit, seenDot, isInt := false, false, true

	i := 0
	for ; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if seenDot {
				return 0, false
			}
			seenDot, isInt = true, false
			continue
		}
		d := hexValue(rune(c))
		if d < 0 {
			break
		}
		anyDigit = true
		intVal = intVal<<4 | uint64(d)
		mant = mant*16 + float64(d)
		if seenDot {
			exp -= 4
		}
	}
	if !anyDigit {
		return 0, false
	}

	if i < len(s) {
		if s[i] != 'p' && s[i] != 'P' {
			return 0, false
		}
		isInt = false
		i++
		sign := 1
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			if s[i] == '-' {
				sign = -1
			}
			i++
		}
		e, expDigits := 0, 0
		for i < len(s) && isDigit(rune(s[i])) {
			if e < 100000 {
				e = e*10 + int(s[i]-'0')
			}
			i++
			expDigits++
		}
		if expDigits == 0 || i != len(s) {
			return 0, false
		}
		exp += sign * e
	}

	if isInt {
		return float64(int64(intVal)), true
	}
	return math.Ldexp(mant, exp), true
}

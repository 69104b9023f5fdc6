package domain

import "strings"

type ExchangeEnum int

const (
	Luno ExchangeEnum = iota
	Hata
)

func (e ExchangeEnum) String() string {
	return []string{"Luno", "Hata"}[e]
}

// ParseExchange matches an exchange name case-insensitively.
func ParseExchange(name string) (ExchangeEnum, bool) {
	for _, e := range []ExchangeEnum{Luno, Hata} {
		if strings.EqualFold(e.String(), name) {
			return e, true
		}
	}
	return 0, false
}

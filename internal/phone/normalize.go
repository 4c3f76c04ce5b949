// Package phone turns numbers as signaled by the PBX into the form used as
// directory keys.
//
// Carriers and handsets sometimes prepend a trunk-access or international
// digit to an otherwise valid number. There is no reliable way to tell the
// two apart from the digits alone, so stripping is decided by the directory:
// a number already stored verbatim is left alone, anything else loses its
// first character.
package phone

import (
	"context"
	"strings"
)

// Kind classifies a normalized number.
type Kind int

const (
	KindBlank Kind = iota
	KindInternal
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	default:
		return "blank"
	}
}

// Rules are the dial plan conventions the normalizer applies.
type Rules struct {
	// ExtensionPrefix is the leading digit of 3 and 4 digit internal extensions.
	ExtensionPrefix string
	// TrunkDigits lists the leading digits that may be stripped from a caller.
	TrunkDigits string
	// MinStripLength is the shortest number eligible for stripping.
	MinStripLength int
}

// DefaultRules matches the exchange the ledger was first deployed on.
func DefaultRules() Rules {
	return Rules{ExtensionPrefix: "4", TrunkDigits: "012", MinStripLength: 10}
}

// ExistsFunc reports whether number is stored verbatim in the directory.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Normalizer applies Rules with a directory existence check.
type Normalizer struct {
	rules  Rules
	exists ExistsFunc
}

// NewNormalizer creates a Normalizer. exists must not be nil.
func NewNormalizer(rules Rules, exists ExistsFunc) *Normalizer {
	return &Normalizer{rules: rules, exists: exists}
}

// Result is a normalized number.
type Result struct {
	Number   string
	Kind     Kind
	Stripped bool
}

// Caller normalizes the number of a leg entering the exchange. Only numbers
// starting with one of the configured trunk digits are stripped.
func (n *Normalizer) Caller(ctx context.Context, raw string) (Result, error) {
	return n.normalize(ctx, raw, func(c byte) bool {
		return strings.IndexByte(n.rules.TrunkDigits, c) >= 0
	})
}

// Destination normalizes a dialed number. Any leading digit may be stripped.
func (n *Normalizer) Destination(ctx context.Context, raw string) (Result, error) {
	return n.normalize(ctx, raw, isDigit)
}

// IsExtension reports whether number looks like an internal extension.
func (n *Normalizer) IsExtension(number string) bool {
	return IsExtension(number, n.rules.ExtensionPrefix)
}

// IsExtension reports whether number is 3 or 4 characters long and starts
// with prefix.
func IsExtension(number, prefix string) bool {
	return (len(number) == 3 || len(number) == 4) && prefix != "" && strings.HasPrefix(number, prefix)
}

// normalize returns the input unchanged alongside any lookup error, so a
// directory outage never rewrites numbers.
func (n *Normalizer) normalize(ctx context.Context, raw string, eligible func(byte) bool) (Result, error) {
	number := strings.TrimSpace(raw)
	if number == "" {
		return Result{Kind: KindBlank}, nil
	}

	if n.IsExtension(number) {
		return Result{Number: number, Kind: KindInternal}, nil
	}

	res := Result{Number: number, Kind: KindExternal}
	if len(number) < n.rules.MinStripLength || !eligible(number[0]) {
		return res, nil
	}

	found, err := n.exists(ctx, number)
	if err != nil {
		return res, err
	}
	if !found {
		res.Number = number[1:]
		res.Stripped = true
	}
	return res, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

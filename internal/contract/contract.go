// Package contract resolves heterogeneous option trade fields into one
// canonical contract identity so same-contract trades pool together.
package contract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioworks/basis-engine/internal/model"
)

// occCompactRe matches OCC-style compact codes: root, YYMMDD expiration,
// C or P, strike times 1000 padded to eight digits. Example:
// TSLA250620C00200000.
var occCompactRe = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5})(\d{6})([CP])(\d{8})$`)

// freeFormRe matches the spaced form "UNDERLYING YYYY-MM-DD STRIKE RIGHT",
// e.g. "TSLA 2025-06-20 200 C".
var freeFormRe = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5})\s+(\d{4}-\d{2}-\d{2})\s+(\d+(?:\.\d+)?)\s+(C|P|CALL|PUT)$`)

// Identity is a fully resolved option contract.
type Identity struct {
	Underlying string
	Expiration string // YYYY-MM-DD
	Strike     decimal.Decimal
	Right      string // "C" or "P"
}

// Key renders the canonical pipe-joined contract key, e.g.
// "TSLA|2025-06-20|200|C".
func (id Identity) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", id.Underlying, id.Expiration, trimStrike(id.Strike), id.Right)
}

func trimStrike(s decimal.Decimal) string {
	out := s.String()
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimRight(out, ".")
	}
	return out
}

// Resolve returns the pooling symbol and contract key for a trade.
// Stocks pool by plain symbol with an empty contract key. Options try,
// in strict priority order: structured identity fields, a parse of the
// raw contract string, the raw string verbatim, and finally a synthetic
// key built from whatever partial fields exist. A less specific strategy
// never overrides a more specific one that is available.
func Resolve(t *model.Trade) (symbol, key string) {
	if t.Instrument != model.InstrumentOption {
		return strings.ToUpper(strings.TrimSpace(t.Symbol)), ""
	}

	raw := strings.ToUpper(strings.TrimSpace(t.OptionSymbolRaw))
	under := strings.ToUpper(strings.TrimSpace(t.Underlying))

	if id, ok := fromStructured(t, raw); ok {
		return id.Underlying, id.Key()
	}
	if id, ok := parseRaw(raw); ok && (under == "" || id.Underlying == under) {
		return id.Underlying, id.Key()
	}
	if raw != "" {
		sym := under
		if sym == "" {
			sym = strings.ToUpper(strings.TrimSpace(t.Symbol))
		}
		if sym == "" {
			sym = raw
		}
		return sym, raw
	}
	return synthetic(t, under)
}

// fromStructured builds the identity from the trade's own option fields
// when all four are present and do not contradict the raw symbol prefix.
func fromStructured(t *model.Trade, raw string) (Identity, bool) {
	under := strings.ToUpper(strings.TrimSpace(t.Underlying))
	exp := normalizeExpiration(t.Expiration)
	right := normalizeRight(t.CallPut)
	if under == "" || exp == "" || right == "" || !t.Strike.Valid {
		return Identity{}, false
	}
	if raw != "" && !strings.HasPrefix(raw, under) {
		return Identity{}, false
	}
	return Identity{Underlying: under, Expiration: exp, Strike: t.Strike.Decimal, Right: right}, true
}

// parseRaw tries the recognized raw-symbol grammars.
func parseRaw(raw string) (Identity, bool) {
	if raw == "" {
		return Identity{}, false
	}
	compact := strings.ReplaceAll(raw, " ", "")
	if m := occCompactRe.FindStringSubmatch(compact); m != nil {
		exp, err := time.Parse("060102", m[2])
		if err != nil {
			return Identity{}, false
		}
		strike := decimal.RequireFromString(m[4]).Div(decimal.NewFromInt(1000))
		return Identity{
			Underlying: m[1],
			Expiration: exp.Format("2006-01-02"),
			Strike:     strike,
			Right:      m[3],
		}, true
	}
	if m := freeFormRe.FindStringSubmatch(raw); m != nil {
		if _, err := time.Parse("2006-01-02", m[2]); err != nil {
			return Identity{}, false
		}
		strike, err := decimal.NewFromString(m[3])
		if err != nil {
			return Identity{}, false
		}
		return Identity{
			Underlying: m[1],
			Expiration: m[2],
			Strike:     strike,
			Right:      normalizeRight(m[4]),
		}, true
	}
	return Identity{}, false
}

// synthetic builds a deterministic key from whatever partial fields
// exist, so incomplete trades still group consistently.
func synthetic(t *model.Trade, under string) (symbol, key string) {
	sym := under
	if sym == "" {
		sym = strings.ToUpper(strings.TrimSpace(t.Symbol))
	}
	if sym == "" {
		sym = "UNKNOWN"
	}
	parts := []string{sym}
	if exp := normalizeExpiration(t.Expiration); exp != "" {
		parts = append(parts, exp)
	}
	if t.Strike.Valid {
		parts = append(parts, trimStrike(t.Strike.Decimal))
	}
	if right := normalizeRight(t.CallPut); right != "" {
		parts = append(parts, right)
	}
	return sym, strings.Join(parts, "|")
}

// normalizeExpiration accepts the date layouts seen across broker
// exports and returns YYYY-MM-DD, or "" when unparseable.
func normalizeExpiration(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", "20060102", "01/02/2006", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	return ""
}

func normalizeRight(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return "C"
	case "P", "PUT":
		return "P"
	}
	return ""
}

package pricing

import (
	"fmt"
	"strconv"
	"strings"
)

// Promo is a redeemable code; the rate is in basis points (1000 = 10%).
type Promo struct {
	Code            string
	RateBasisPoints int64
}

// PromoBook is the consumption side of the voucher subsystem.
type PromoBook interface {
	Lookup(code string) (Promo, bool)
}

// StaticPromoBook is a fixed set of codes, matched case-insensitively.
type StaticPromoBook map[string]Promo

func NewStaticPromoBook(promos ...Promo) StaticPromoBook {
	b := StaticPromoBook{}
	for _, p := range promos {
		b[normalizeCode(p.Code)] = Promo{Code: normalizeCode(p.Code), RateBasisPoints: p.RateBasisPoints}
	}
	return b
}

func (b StaticPromoBook) Lookup(code string) (Promo, bool) {
	p, ok := b[normalizeCode(code)]
	return p, ok
}

// ParsePromoCodes reads "CODE:bps,CODE:bps", e.g. "WELCOME10:1000,VIP20:2000".
func ParsePromoCodes(s string) (StaticPromoBook, error) {
	var promos []Promo
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, rate, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("promo %q: want CODE:basis_points", part)
		}
		bps, err := strconv.ParseInt(strings.TrimSpace(rate), 10, 64)
		if err != nil || bps < 0 || bps > 10_000 {
			return nil, fmt.Errorf("promo %q: rate must be 0..10000 basis points", part)
		}
		promos = append(promos, Promo{Code: code, RateBasisPoints: bps})
	}
	return NewStaticPromoBook(promos...), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

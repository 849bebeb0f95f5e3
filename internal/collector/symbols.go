package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// SymbolLister is the exchange metadata used to resolve the symbol list.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
	TopPairs(ctx context.Context, quote string, n int) ([]string, error)
}

// ResolveSymbols expands "TOP:<QUOTE>:<N>" entries into the N pairs with the
// highest 24h volume quoted in QUOTE, then drops symbols the exchange does
// not list. Order is first-seen; duplicates are removed.
func ResolveSymbols(ctx context.Context, ex SymbolLister, configured []string, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		out   []string
		seen  = make(map[string]bool)
		plain []string
	)
	add := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}

	for _, entry := range configured {
		quote, n, ok, err := parseTop(entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			plain = append(plain, entry)
			add(entry)
			continue
		}
		top, err := ex.TopPairs(ctx, quote, n)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", entry, err)
		}
		for _, sym := range top {
			add(sym)
		}
	}

	if len(plain) > 0 {
		listed, err := ex.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("list exchange symbols: %w", err)
		}
		known := make(map[string]bool, len(listed))
		for _, s := range listed {
			known[s] = true
		}
		kept := out[:0]
		for _, sym := range out {
			if known[sym] {
				kept = append(kept, sym)
				continue
			}
			log.Warn("symbol not listed on exchange, skipping", zap.String("symbol", sym))
		}
		out = kept
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no tradable symbols in %v", configured)
	}
	return out, nil
}

// parseTop recognizes "TOP:<QUOTE>:<N>" (case-insensitive).
func parseTop(entry string) (quote string, n int, ok bool, err error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 || !strings.EqualFold(parts[0], "top") {
		return "", 0, false, nil
	}
	n, err = strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return "", 0, false, fmt.Errorf("bad symbol entry %q: want TOP:<QUOTE>:<N>", entry)
	}
	return strings.ToUpper(parts[1]), n, true, nil
}

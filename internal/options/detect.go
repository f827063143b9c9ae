// Package options implements the options-trade computation layer of the
// journal engine: contract symbol decomposition, trade direction
// inference, P&L reconciliation, and risk:reward statistics.
//
// Everything in this package is a pure function over plain data. Nothing
// here raises an error — malformed input degrades to a "not detected" or
// zero-value result, since a journal dashboard should never hard-fail
// because one derived statistic couldn't be computed.
package options

import (
	"regexp"
	"strings"
)

// Detection is the result of decomposing a trade symbol into option
// contract metadata. Derived purely from the symbol string.
type Detection struct {
	IsOption         bool   `json:"is_option"`
	OptionType       string `json:"option_type"`                 // "CE", "PE", or ""
	UnderlyingSymbol string `json:"underlying_symbol,omitempty"` // e.g. "NIFTY"
	StrikePrice      string `json:"strike_price,omitempty"`
	Expiry           string `json:"expiry,omitempty"`
}

// exchangePrefixes are stripped before pattern matching. Broker exports
// prefix symbols with the exchange segment, e.g. "NSE:NIFTY24000CE".
var exchangePrefixes = []string{"NSE:", "BSE:", "MCX:", "NFO:"}

// extractor pulls Detection fields out of a regex match.
type extractor func(m []string) Detection

// symbolPattern pairs a compiled pattern with its field extractor.
// Patterns are evaluated in order, first match wins — no scoring.
type symbolPattern struct {
	re      *regexp.Regexp
	extract extractor
}

// symbolPatterns is the ordered cascade, most specific first.
//
// Broker symbol formats vary wildly: some carry a clean strike
// ("NIFTY24000CE"), some a long numeric contract identifier
// ("NIFTY2024120524000CE"), some an embedded expiry ("BANKNIFTY24DEC51000PE"),
// and manual entries may be space separated ("NIFTY 24000 CE").
var symbolPatterns = []symbolPattern{
	{
		// Symbol + long numeric contract id (8+ digits) + CE/PE.
		// Long ids encode the strike in the trailing five digits.
		re: regexp.MustCompile(`^([A-Z]+?)(\d{8,})(CE|PE)$`),
		extract: func(m []string) Detection {
			id := m[2]
			return Detection{
				IsOption:         true,
				OptionType:       m[3],
				UnderlyingSymbol: m[1],
				StrikePrice:      id[len(id)-5:],
			}
		},
	},
	{
		// Symbol + plain 4-7 digit strike + CE/PE.
		re: regexp.MustCompile(`^([A-Z]+?)(\d{4,7})(CE|PE)$`),
		extract: func(m []string) Detection {
			return Detection{
				IsOption:         true,
				OptionType:       m[3],
				UnderlyingSymbol: m[1],
				StrikePrice:      m[2],
			}
		},
	},
	{
		// Symbol + short expiry (24DEC) + strike + CE/PE.
		re: regexp.MustCompile(`^([A-Z]+?)(\d{2}[A-Z]{3})(\d+)(CE|PE)$`),
		extract: func(m []string) Detection {
			return Detection{
				IsOption:         true,
				OptionType:       m[4],
				UnderlyingSymbol: m[1],
				StrikePrice:      m[3],
				Expiry:           m[2],
			}
		},
	},
	{
		// Space-separated manual entry: "NIFTY 24000 CE".
		re: regexp.MustCompile(`^([A-Z]+) (\d+) (CE|PE)$`),
		extract: func(m []string) Detection {
			return Detection{
				IsOption:         true,
				OptionType:       m[3],
				UnderlyingSymbol: m[1],
				StrikePrice:      m[2],
			}
		},
	},
	{
		// Symbol + full expiry (24DEC24) + strike + CE/PE.
		re: regexp.MustCompile(`^([A-Z]+?)(\d{2}[A-Z]{3}\d{2})(\d+)(CE|PE)$`),
		extract: func(m []string) Detection {
			return Detection{
				IsOption:         true,
				OptionType:       m[4],
				UnderlyingSymbol: m[1],
				StrikePrice:      m[3],
				Expiry:           m[2],
			}
		},
	},
}

// Detect decomposes a raw trade symbol into option contract metadata.
// Exchange prefixes are stripped, the symbol is uppercased, and the
// pattern cascade is tried in order. If no pattern matches but the
// symbol still contains a CE/PE marker, a best-effort fallback extracts
// the option type and underlying. Anything else is not an option.
func Detect(symbol string) Detection {
	cleaned := strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range exchangePrefixes {
		cleaned = strings.TrimPrefix(cleaned, p)
	}

	for _, sp := range symbolPatterns {
		if m := sp.re.FindStringSubmatch(cleaned); m != nil {
			d := sp.extract(m)
			d.UnderlyingSymbol = normalizeUnderlying(d.UnderlyingSymbol)
			return d
		}
	}

	return detectFallback(cleaned)
}

// detectFallback handles symbols that defeat the cascade but still carry
// a CE/PE marker somewhere. It peels the marker and trailing noise off
// the end to recover a best-effort underlying, which may be "UNKNOWN".
func detectFallback(cleaned string) Detection {
	var optionType string
	switch {
	case strings.Contains(cleaned, "CE"):
		optionType = "CE"
	case strings.Contains(cleaned, "PE"):
		optionType = "PE"
	default:
		return Detection{IsOption: false, OptionType: ""}
	}

	underlying := strings.TrimSuffix(cleaned, optionType)
	underlying = strings.TrimRight(underlying, "0123456789")
	underlying = strings.TrimRight(underlying, " -_:.")
	underlying = normalizeUnderlying(underlying)
	if underlying == "" {
		underlying = "UNKNOWN"
	}

	return Detection{
		IsOption:         true,
		OptionType:       optionType,
		UnderlyingSymbol: underlying,
	}
}

// normalizeUnderlying collapses index option symbols to their canonical
// underlying: anything mentioning NIFTY is "NIFTY" unless it also
// mentions BANK, in which case it is "BANKNIFTY".
func normalizeUnderlying(symbol string) string {
	if !strings.Contains(symbol, "NIFTY") {
		return symbol
	}
	if strings.Contains(symbol, "BANK") {
		return "BANKNIFTY"
	}
	return "NIFTY"
}

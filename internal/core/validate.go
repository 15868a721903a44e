package core

// validate.go checks an export request's parameters before a job is
// created. All checks happen up front so a bad request never reaches the
// pipeline: the job either starts clean or is never created.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Request is the normalized set of parameters accepted by the initiate
// endpoint, before any job has been created for it.
type Request struct {
	CountryCode      string
	SubscriptionTier string
	MinLTV           string // raw, parsed by ValidateRequest
	Columns          string // raw comma-separated list, or ""
	Delimiter        string // raw, default "," if empty
	QuoteChar        string // raw, default `"` if empty
}

const (
	defaultDelimiter = ','
	defaultQuoteChar = '"'
)

// ValidateRequest checks every field of req and, if all are valid, returns
// the normalized Filters, column order, and dialect to create a job with.
// Every violation is collected rather than returning on the first, so a
// caller sees all problems with a request at once.
func ValidateRequest(req Request) (Filters, []string, rune, rune, error) {
	var errs []string
	var filters Filters

	if req.CountryCode != "" {
		cc := strings.ToUpper(req.CountryCode)
		if len(cc) != 2 || !isAlpha2(cc) {
			errs = append(errs, fmt.Sprintf("country_code %q must be exactly two letters", req.CountryCode))
		} else {
			filters.CountryCode = cc
		}
	}

	if req.SubscriptionTier != "" {
		if !ValidTier(req.SubscriptionTier) {
			errs = append(errs, fmt.Sprintf("subscription_tier %q is not one of free, basic, premium, enterprise", req.SubscriptionTier))
		} else {
			filters.SubscriptionTier = req.SubscriptionTier
		}
	}

	if req.MinLTV != "" {
		v, err := strconv.ParseFloat(req.MinLTV, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("min_ltv %q must be a non-negative finite number", req.MinLTV))
		} else {
			filters.MinLTV = &v
		}
	}

	columns := Columns
	if req.Columns != "" {
		cols, err := validateColumns(req.Columns)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			columns = cols
		}
	}

	delimiter := rune(defaultDelimiter)
	if req.Delimiter != "" {
		r, err := singleRune("delimiter", req.Delimiter)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			delimiter = r
		}
	}

	quoteChar := rune(defaultQuoteChar)
	if req.QuoteChar != "" {
		r, err := singleRune("quoteChar", req.QuoteChar)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			quoteChar = r
		}
	}

	if delimiter == quoteChar {
		errs = append(errs, "delimiter and quoteChar must differ")
	}

	if len(errs) > 0 {
		return Filters{}, nil, 0, 0, fmt.Errorf("%s: %w", strings.Join(errs, "; "), ErrValidation)
	}

	return filters, columns, delimiter, quoteChar, nil
}

func validateColumns(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	cols := make([]string, 0, len(parts))

	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		if !ValidColumn(name) {
			return nil, fmt.Errorf("columns: %q is not a recognized column", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("columns: %q is duplicated", name)
		}
		seen[name] = true
		cols = append(cols, name)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("columns: must name at least one column")
	}
	return cols, nil
}

func singleRune(field, raw string) (rune, error) {
	runes := []rune(raw)
	if len(runes) != 1 {
		return 0, fmt.Errorf("%s must be a single character, got %q", field, raw)
	}
	return runes[0], nil
}

func isAlpha2(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

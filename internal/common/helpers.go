// Package common contains helpers used across the project:
// Swedish pluralisation, money formatting and Stockholm time.
package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PluralizeCredits returns "kredit" or "krediter" for n.
//
// Examples:
//
//	PluralizeCredits(1) → "kredit"
//	PluralizeCredits(0) → "krediter"
//	PluralizeCredits(5) → "krediter"
func PluralizeCredits(n int) string {
	if n == 1 || n == -1 {
		return "kredit"
	}
	return "krediter"
}

// PluralizeBookings returns "bokning" or "bokningar" for n.
func PluralizeBookings(n int) string {
	if n == 1 || n == -1 {
		return "bokning"
	}
	return "bokningar"
}

// FormatCredits renders a credit amount, e.g. FormatCredits(5) → "5 krediter".
func FormatCredits(n int) string {
	return fmt.Sprintf("%d %s", n, PluralizeCredits(n))
}

// FormatSEK renders an amount in kronor with two decimals and a space as
// thousands separator: FormatSEK(decimal.NewFromInt(12500)) → "12 500,00 kr".
func FormatSEK(amount decimal.Decimal) string {
	neg := amount.IsNegative()
	s := amount.Abs().StringFixed(2)
	whole, frac := s[:len(s)-3], s[len(s)-2:]

	out := ""
	for len(whole) > 3 {
		out = " " + whole[len(whole)-3:] + out
		whole = whole[:len(whole)-3]
	}
	out = whole + out
	if neg {
		out = "-" + out
	}
	return out + "," + frac + " kr"
}

// stockholm is resolved once; falls back to a fixed CET offset when the
// tz database is missing from the container.
var stockholm = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		return time.FixedZone("CET", 1*60*60)
	}
	return loc
}()

// Stockholm returns the school's time zone.
func Stockholm() *time.Location {
	return stockholm
}

// FormatDate renders a date as "2006-01-02" in Stockholm time.
func FormatDate(t time.Time) string {
	return t.In(stockholm).Format("2006-01-02")
}

// FormatDateTime renders "2006-01-02 15:04" in Stockholm time.
func FormatDateTime(t time.Time) string {
	return t.In(stockholm).Format("2006-01-02 15:04")
}

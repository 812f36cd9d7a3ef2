package trigger

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// NoSpecificValue marks the unused one of day-of-month and day-of-week.
const NoSpecificValue = "?"

// ErrInvalidExpression is returned when a trigger expression cannot be read back.
var ErrInvalidExpression = errors.New("invalid trigger expression")

// Expression is one compiled firing pattern in the six or seven field
// "second minute hour dayOfMonth month dayOfWeek [year]" layout.
type Expression struct {
	Second     string
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
	Year       string
}

// String renders the expression; the year field is emitted only when set.
func (e Expression) String() string {
	fields := []string{e.Second, e.Minute, e.Hour, e.DayOfMonth, e.Month, e.DayOfWeek}
	if e.Year != "" {
		fields = append(fields, e.Year)
	}
	return strings.Join(fields, " ")
}

// CronSpec renders the six fields understood by the cron runtime, dropping the year.
func (e Expression) CronSpec() string {
	return strings.Join([]string{e.Second, e.Minute, e.Hour, e.DayOfMonth, e.Month, e.DayOfWeek}, " ")
}

// Validate checks the day field exclusivity every compiled expression carries.
func (e Expression) Validate() error {
	domOpen := e.DayOfMonth == NoSpecificValue
	dowOpen := e.DayOfWeek == NoSpecificValue
	if domOpen == dowOpen {
		return errors.Wrapf(ErrInvalidExpression,
			"exactly one of day-of-month %q and day-of-week %q must be %q", e.DayOfMonth, e.DayOfWeek, NoSpecificValue)
	}
	return nil
}

// ParseExpression splits a stored expression back into its fields.
func ParseExpression(raw string) (Expression, error) {
	fields := strings.Fields(raw)
	if len(fields) != 6 && len(fields) != 7 {
		return Expression{}, errors.Wrapf(ErrInvalidExpression, "expected 6 or 7 fields, got %d in %q", len(fields), raw)
	}
	e := Expression{
		Second:     fields[0],
		Minute:     fields[1],
		Hour:       fields[2],
		DayOfMonth: fields[3],
		Month:      fields[4],
		DayOfWeek:  fields[5],
	}
	if len(fields) == 7 {
		e.Year = fields[6]
	}
	if err := e.Validate(); err != nil {
		return Expression{}, err
	}
	return e, nil
}

// Strings renders a list of expressions.
func Strings(exprs []Expression) []string {
	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, e.String())
	}
	return out
}

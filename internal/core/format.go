package core

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// frenchMonths holds the three-letter display prefix of each French short month name.
var frenchMonths = [12]string{"Jan", "Fév", "Mar", "Avr", "Mai", "Jui", "Jui", "Aoû", "Sep", "Oct", "Nov", "Déc"}

// FormatDate turns a stored YYYY-MM-DD date into the display form used in
// the bill table, e.g. "2004-04-04" -> "4 Avr. 04".
func FormatDate(raw string) (string, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return "", fmt.Errorf("%w: date %q: %v", ErrMalformedRecord, raw, err)
	}
	year := fmt.Sprintf("%04d", t.Year())
	return fmt.Sprintf("%d %s. %s", t.Day(), frenchMonths[t.Month()-1], year[2:]), nil
}

// FormatStatus returns the display label of a bill status.
func FormatStatus(s Status) (string, error) {
	switch s {
	case StatusPending:
		return "En attente", nil
	case StatusAccepted:
		return "Accepté", nil
	case StatusRefused:
		return "Refused", nil
	}
	return "", fmt.Errorf("%w: status %q", ErrMalformedRecord, s)
}

// FormatAmount renders an amount the way the bill table shows it.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64) + " €"
}

// NewView builds the display model of b. Any formatting failure is returned
// and the caller decides whether to fall back to RawView.
func NewView(b Bill) (BillView, error) {
	v := RawView(b)
	date, err := FormatDate(b.Date)
	if err != nil {
		return v, err
	}
	status, err := FormatStatus(b.Status)
	if err != nil {
		return v, err
	}
	v.Date = date
	v.Status = status
	v.Malformed = false
	return v, nil
}

// RawView builds a display model that keeps the stored date and status untouched.
func RawView(b Bill) BillView {
	return BillView{
		ID:         b.ID,
		Type:       b.Type,
		Name:       b.Name,
		Date:       b.Date,
		RawDate:    b.Date,
		Amount:     FormatAmount(b.Amount),
		Status:     string(b.Status),
		StatusCode: b.Status,
		FileURL:    Deref(b.FileURL),
		FileName:   Deref(b.FileName),
		Malformed:  true,
	}
}

// AntiChrono orders dates most recent first. The comparison is lexicographic,
// which is only calendar-correct for YYYY-MM-DD strings.
func AntiChrono(a, b string) bool {
	return a > b
}

// SortAntiChrono sorts views by their stored date, most recent first.
func SortAntiChrono(views []BillView) {
	sort.SliceStable(views, func(i, j int) bool {
		return AntiChrono(views[i].RawDate, views[j].RawDate)
	})
}

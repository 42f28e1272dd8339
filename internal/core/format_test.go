package core

import (
	"errors"
	"reflect"
	"sort"
	"testing"
)

func TestFormatDate(t *testing.T) {
	cases := map[string]string{
		"2004-04-04": "4 Avr. 04",
		"2001-01-01": "1 Jan. 01",
		"2022-12-25": "25 Déc. 22",
		"2020-08-15": "15 Aoû. 20",
	}
	for in, want := range cases {
		got, err := FormatDate(in)
		if err != nil || got != want {
			t.Fatalf("FormatDate(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "date", "04/04/2004", "2004-13-01"} {
		if _, err := FormatDate(bad); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("FormatDate(%q) err = %v, want ErrMalformedRecord", bad, err)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	cases := map[Status]string{
		StatusPending:  "En attente",
		StatusAccepted: "Accepté",
		StatusRefused:  "Refused",
	}
	for in, want := range cases {
		got, err := FormatStatus(in)
		if err != nil || got != want {
			t.Fatalf("FormatStatus(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := FormatStatus("lost"); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestNewViewFallsBackToRaw(t *testing.T) {
	v, err := NewView(Bill{ID: "1", Date: "2004-04-04", Status: StatusRefused, Amount: 400})
	if err != nil {
		t.Fatalf("NewView: %v", err)
	}
	if v.Date != "4 Avr. 04" || v.Status != "Refused" || v.Amount != "400 €" || v.Malformed {
		t.Fatalf("unexpected view: %+v", v)
	}

	v, err = NewView(Bill{ID: "2", Date: "not a date", Status: StatusPending})
	if err == nil {
		t.Fatalf("expected error")
	}
	if v.Date != "not a date" || v.Status != "pending" || !v.Malformed {
		t.Fatalf("expected raw fallback view, got %+v", v)
	}
}

func TestSortAntiChrono(t *testing.T) {
	views := []BillView{{RawDate: "2001-01-01"}, {RawDate: "2004-04-04"}}
	SortAntiChrono(views)
	got := []string{views[0].RawDate, views[1].RawDate}
	if want := []string{"2004-04-04", "2001-01-01"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	dates := []string{"2003-03-03", "2004-04-04", "2001-01-01", "2002-02-02"}
	sort.Slice(dates, func(i, j int) bool { return AntiChrono(dates[i], dates[j]) })
	if want := []string{"2004-04-04", "2003-03-03", "2002-02-02", "2001-01-01"}; !reflect.DeepEqual(dates, want) {
		t.Fatalf("got %v, want %v", dates, want)
	}
}

package core

import (
	"encoding/json"
	"errors"
)

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

const (
	UserEmployee UserType = "Employee"
	UserAdmin    UserType = "Admin"
)

// Routes requested through the navigator. Routing itself lives in the web layer.
const (
	RouteLogin   = "/"
	RouteBills   = "/employee/bills"
	RouteNewBill = "/employee/bill/new"
)

// DefaultPct is applied when the pct field is left empty.
const DefaultPct = 20

type (
	Status   string
	UserType string

	// Bill is an employee expense claim as stored by the remote bill store.
	// FileURL and FileName stay nil until the attachment upload resolves.
	Bill struct {
		ID           string  `json:"id,omitempty"`
		Email        string  `json:"email"`
		Type         string  `json:"type"`
		Name         string  `json:"name"`
		Amount       float64 `json:"amount"`
		Date         string  `json:"date"`
		VAT          VAT     `json:"vat"`
		Pct          Pct     `json:"pct"`
		Commentary   string  `json:"commentary"`
		FileURL      *string `json:"fileUrl"`
		FileName     *string `json:"fileName"`
		Status       Status  `json:"status"`
		CommentAdmin string  `json:"commentAdmin,omitempty"`
	}

	// BillView is the display-ready form of a Bill.
	BillView struct {
		ID         string
		Type       string
		Name       string
		Date       string // display date, or RawDate when Malformed
		RawDate    string
		Amount     string
		Status     string // display label, or the raw status when Malformed
		StatusCode Status
		FileURL    string
		FileName   string
		Malformed  bool
	}

	User struct {
		Email string   `json:"email"`
		Type  UserType `json:"type"`
	}
)

var (
	ErrUploadFailed    = errors.New("attachment upload failed")
	ErrUploadInFlight  = errors.New("attachment upload still in flight")
	ErrListFailed      = errors.New("bill listing failed")
	ErrSubmitFailed    = errors.New("bill submission failed")
	ErrMalformedRecord = errors.New("malformed bill record")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

func (t UserType) Valid() bool {
	return t == UserEmployee || t == UserAdmin
}

// Marshal serializes the bill the way the store's update operation expects it.
func (b Bill) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBill is the inverse of Bill.Marshal.
func UnmarshalBill(data []byte) (Bill, error) {
	var b Bill
	if err := json.Unmarshal(data, &b); err != nil {
		return Bill{}, err
	}
	return b, nil
}

// StringPtr returns nil for an empty string so optional attachment
// fields serialize as JSON null.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

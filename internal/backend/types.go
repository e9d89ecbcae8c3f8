package backend

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ID is an identifier the backend may send either as a JSON number or a string.
type ID string

// UnmarshalJSON accepts numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ID(rawString(data))
	return nil
}

// Service is a catalog entry.
type Service struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	DurationMin int     `json:"duration_min"`
	Price       float64 `json:"price"`
	ColorHex    string  `json:"color_hex,omitempty"`
	IsClass     bool    `json:"is_class,omitempty"`
}

// Instructor is a stylist, trainer or teacher that can be booked.
type Instructor struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	ColorHex string `json:"color_hex,omitempty"`
	BranchID ID     `json:"branch_id,omitempty"`
}

// Branch is a physical location of the business.
type Branch struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Customer is an existing customer record.
type Customer struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Availability is the raw availability payload. Entries may be bare "HH:MM"
// tokens, local-naive or zoned timestamps.
type Availability struct {
	Slots     []string `json:"slots"`
	BusySlots []string `json:"busy_slots"`
}

// UnmarshalJSON accepts both busy_slots and busySlots.
func (a *Availability) UnmarshalJSON(data []byte) error {
	var raw struct {
		Slots      []string `json:"slots"`
		BusySnake  []string `json:"busy_slots"`
		BusyCamel  []string `json:"busySlots"`
		BusyLegacy []string `json:"busy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Slots = raw.Slots
	switch {
	case raw.BusySnake != nil:
		a.BusySlots = raw.BusySnake
	case raw.BusyCamel != nil:
		a.BusySlots = raw.BusyCamel
	default:
		a.BusySlots = raw.BusyLegacy
	}
	return nil
}

// Appointment is the canonical appointment record. Field-name aliases used by
// different backend versions are folded in UnmarshalJSON, so nothing else in
// the module needs to know about them.
type Appointment struct {
	ID             string  `json:"id"`
	SeriesID       string  `json:"series_id,omitempty"`
	CustomerID     string  `json:"customer_id,omitempty"`
	CustomerName   string  `json:"customer_name"`
	CustomerPhone  string  `json:"customer_phone,omitempty"`
	ServiceID      string  `json:"service_id"`
	ServiceName    string  `json:"service_name"`
	InstructorID   string  `json:"instructor_id"`
	InstructorName string  `json:"instructor_name,omitempty"`
	BranchID       string  `json:"branch_id,omitempty"`
	StartsAt       string  `json:"starts_at"`
	EndsAt         string  `json:"ends_at"`
	ColorHex       string  `json:"color_hex,omitempty"`
	Status         string  `json:"status,omitempty"`
	Price          float64 `json:"price,omitempty"`
	DepositAmount  float64 `json:"deposit_amount,omitempty"`
	DepositPaid    bool    `json:"deposit_paid,omitempty"`
	PaymentStatus  string  `json:"payment_status,omitempty"`
	NotifyChannel  string  `json:"notify_channel,omitempty"`
}

var appointmentAliases = map[string][]string{
	"id":              {"id", "appointment_id", "appointmentId"},
	"series_id":       {"series_id", "seriesId", "group_id"},
	"customer_id":     {"customer_id", "customerId", "client_id", "clientId"},
	"customer_name":   {"customer_name", "customerName", "client_name", "clientName"},
	"customer_phone":  {"customer_phone", "customerPhone", "client_phone", "phone"},
	"service_id":      {"service_id", "serviceId"},
	"service_name":    {"service_name", "serviceName"},
	"instructor_id":   {"instructor_id", "instructorId", "stylist_id", "stylistId"},
	"instructor_name": {"instructor_name", "instructorName", "stylist_name", "stylistName"},
	"branch_id":       {"branch_id", "branchId"},
	"starts_at":       {"starts_at", "startsAt", "start"},
	"ends_at":         {"ends_at", "endsAt", "end"},
	"color_hex":       {"color_hex", "colorHex", "color"},
	"status":          {"status"},
	"price":           {"price", "service_price", "servicePrice"},
	"deposit_amount":  {"deposit_amount", "depositAmount"},
	"deposit_paid":    {"deposit_paid", "depositPaid"},
	"payment_status":  {"payment_status", "paymentStatus"},
	"notify_channel":  {"notify_channel", "notifyChannel"},
}

// UnmarshalJSON folds the known aliases into the canonical fields.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	pick := func(name string) json.RawMessage {
		for _, key := range appointmentAliases[name] {
			if v, ok := fields[key]; ok && string(v) != "null" {
				return v
			}
		}
		return nil
	}
	str := func(name string) string { return rawString(pick(name)) }

	*a = Appointment{
		ID:             str("id"),
		SeriesID:       str("series_id"),
		CustomerID:     str("customer_id"),
		CustomerName:   str("customer_name"),
		CustomerPhone:  str("customer_phone"),
		ServiceID:      str("service_id"),
		ServiceName:    str("service_name"),
		InstructorID:   str("instructor_id"),
		InstructorName: str("instructor_name"),
		BranchID:       str("branch_id"),
		StartsAt:       str("starts_at"),
		EndsAt:         str("ends_at"),
		ColorHex:       str("color_hex"),
		Status:         str("status"),
		Price:          rawFloat(pick("price")),
		DepositAmount:  rawFloat(pick("deposit_amount")),
		DepositPaid:    rawBool(pick("deposit_paid")),
		PaymentStatus:  str("payment_status"),
		NotifyChannel:  str("notify_channel"),
	}
	return nil
}

// CreateAppointmentRequest is the body of POST /api/appointments.
type CreateAppointmentRequest struct {
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	ServiceID     string `json:"service_id"`
	InstructorID  string `json:"instructor_id"`
	BranchID      string `json:"branch_id,omitempty"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	DurationMin   int    `json:"duration_min"`
	NotifyChannel string `json:"notify_channel,omitempty"`
	SeriesID      string `json:"series_id,omitempty"`
}

// CreateSeriesRequest is the body of POST /api/appointments/series.
type CreateSeriesRequest struct {
	SeriesID    string                     `json:"series_id"`
	Atomic      bool                       `json:"atomic"`
	Occurrences []CreateAppointmentRequest `json:"occurrences"`
}

// SeriesResult reports what the backend did with a series request.
type SeriesResult struct {
	OK        bool          `json:"ok"`
	Created   []Appointment `json:"created"`
	Conflicts []string      `json:"conflicts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AppointmentPatch is a sparse update; nil fields are left untouched.
type AppointmentPatch struct {
	StartsAt      *string `json:"starts_at,omitempty"`
	EndsAt        *string `json:"ends_at,omitempty"`
	ServiceID     *string `json:"service_id,omitempty"`
	InstructorID  *string `json:"instructor_id,omitempty"`
	BranchID      *string `json:"branch_id,omitempty"`
	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	Status        *string `json:"status,omitempty"`
	DepositPaid   *bool   `json:"deposit_paid,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// ClassEnrollmentRequest enrolls a customer into a group class.
type ClassEnrollmentRequest struct {
	ClassID       string `json:"class_id"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

// PaymentLinkRequest asks the backend to build a payment link.
type PaymentLinkRequest struct {
	AppointmentID string  `json:"appointment_id"`
	Amount        float64 `json:"amount"`
	Phone         string  `json:"phone"`
}

// PaymentLink is the generated link.
type PaymentLink struct {
	Link string `json:"link"`
}

// ReprogramRequest asks the backend to send a WhatsApp "reprogram" message.
type ReprogramRequest struct {
	AppointmentID string `json:"appointment_id"`
	Phone         string `json:"phone,omitempty"`
}

func rawString(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(data), `"`)
}

func rawFloat(data json.RawMessage) float64 {
	s := rawString(data)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func rawBool(data json.RawMessage) bool {
	s := rawString(data)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return s == "1"
	}
	return b
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListServices returns the service catalog.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var wrap struct {
		Services []Service `json:"services"`
	}
	if err := c.cachedGet(ctx, "agenda:services", c.baseURL+"/api/services", &wrap); err != nil {
		return nil, err
	}
	return wrap.Services, nil
}

// ListInstructors returns the bookable instructors.
func (c *Client) ListInstructors(ctx context.Context) ([]Instructor, error) {
	var wrap struct {
		Instructors []Instructor `json:"instructors"`
	}
	if err := c.cachedGet(ctx, "agenda:instructors", c.baseURL+"/api/instructors", &wrap); err != nil {
		return nil, err
	}
	return wrap.Instructors, nil
}

// ListBranches returns the business branches.
func (c *Client) ListBranches(ctx context.Context) ([]Branch, error) {
	var wrap struct {
		Branches []Branch `json:"branches"`
	}
	if err := c.cachedGet(ctx, "agenda:branches", c.baseURL+"/api/branches", &wrap); err != nil {
		return nil, err
	}
	return wrap.Branches, nil
}

func (c *Client) cachedGet(ctx context.Context, cacheKey, endpoint string, out any) error {
	if c.readCache(ctx, cacheKey, out) {
		return nil
	}
	if err := c.doGet(ctx, endpoint, out); err != nil {
		return err
	}
	c.writeCache(ctx, cacheKey, out)
	return nil
}

// SearchCustomers looks customers up by name or phone fragment.
func (c *Client) SearchCustomers(ctx context.Context, query string) ([]Customer, error) {
	endpoint := fmt.Sprintf("%s/api/customers?q=%s", c.baseURL, url.QueryEscape(query))
	var wrap struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	return wrap.Customers, nil
}

// GetAvailability returns raw free and busy slots for a service, instructor
// and day (YYYY-MM-DD). Availability is never cached.
func (c *Client) GetAvailability(ctx context.Context, serviceID, instructorID, date string, stepMinutes int) (*Availability, error) {
	q := url.Values{}
	q.Set("service_id", serviceID)
	q.Set("instructor_id", instructorID)
	q.Set("date", date)
	if stepMinutes > 0 {
		q.Set("step", strconv.Itoa(stepMinutes))
	}
	var resp Availability
	if err := c.doGet(ctx, c.baseURL+"/api/availability?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAppointments returns appointments in [from, to]; both bounds are ISO
// timestamps.
func (c *Client) ListAppointments(ctx context.Context, from, to string) ([]Appointment, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)

	var raw json.RawMessage
	if err := c.doGet(ctx, c.baseURL+"/api/appointments?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	// Both a bare array and {"appointments": [...]} are in use.
	var list []Appointment
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrap struct {
		Appointments []Appointment `json:"appointments"`
	}
	if err := json.Unmarshal(raw, &wrap); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}
	return wrap.Appointments, nil
}

// CreateAppointment creates a single appointment.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest, idempotencyKey string) (*Appointment, error) {
	var resp struct {
		Appointment *Appointment `json:"appointment"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/appointments", req, &resp, idempotencyKey); err != nil {
		return nil, err
	}
	if resp.Appointment == nil {
		return nil, errors.New("respuesta sin turno creado")
	}
	return resp.Appointment, nil
}

// CreateSeries submits every occurrence of a recurring series in one request.
// On a rejected series the decoded SeriesResult is returned together with the
// error, so callers can see which occurrences the backend reported as created.
func (c *Client) CreateSeries(ctx context.Context, req CreateSeriesRequest, idempotencyKey string) (*SeriesResult, error) {
	var resp SeriesResult
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/appointments/series", req, &resp, idempotencyKey)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
			var partial SeriesResult
			if json.Unmarshal(apiErr.Body, &partial) == nil {
				return &partial, err
			}
		}
		return nil, err
	}
	return &resp, nil
}

// UpdateAppointment applies a sparse patch.
func (c *Client) UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) (*Appointment, error) {
	endpoint := fmt.Sprintf("%s/api/appointments/%s", c.baseURL, url.PathEscape(id))
	var resp struct {
		Appointment *Appointment `json:"appointment"`
	}
	if err := c.doJSON(ctx, http.MethodPut, endpoint, patch, &resp, ""); err != nil {
		return nil, err
	}
	return resp.Appointment, nil
}

// DeleteAppointment removes an appointment.
func (c *Client) DeleteAppointment(ctx context.Context, id string) error {
	return c.doDelete(ctx, fmt.Sprintf("%s/api/appointments/%s", c.baseURL, url.PathEscape(id)))
}

// CancelAppointment cancels an appointment. The backend notifies the
// customer as a side effect.
func (c *Client) CancelAppointment(ctx context.Context, id, reason string) error {
	endpoint := fmt.Sprintf("%s/api/appointments/%s/cancel", c.baseURL, url.PathEscape(id))
	body := map[string]string{"reason": reason}
	return c.doJSON(ctx, http.MethodPost, endpoint, body, nil, "")
}

// EnrollClass enrolls a customer into a group class.
func (c *Client) EnrollClass(ctx context.Context, req ClassEnrollmentRequest) (*ActionResult, error) {
	var resp ActionResult
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/class-enrollments", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePaymentLink asks the backend for a payment link. The idempotency key
// makes retries return the same link.
func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest, idempotencyKey string) (*PaymentLink, error) {
	var resp PaymentLink
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/payment-links", req, &resp, idempotencyKey); err != nil {
		return nil, err
	}
	if resp.Link == "" {
		return nil, errors.New("el servidor no devolvió el link de pago")
	}
	return &resp, nil
}

// SendReprogram sends the WhatsApp "please reprogram" message.
func (c *Client) SendReprogram(ctx context.Context, req ReprogramRequest) (*ActionResult, error) {
	var resp ActionResult
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/whatsapp/reprogram", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendTestMessage sends a WhatsApp test message to phone.
func (c *Client) SendTestMessage(ctx context.Context, phone string) (*ActionResult, error) {
	var resp ActionResult
	body := map[string]string{"phone": phone}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/whatsapp/test", body, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Package yclients implements the booking source on top of the YClients REST API.
package yclients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/booking"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/infra/config"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx answer or a {"success": false} envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("yclients: http %d", e.StatusCode)
	}
	return fmt.Sprintf("yclients: http %d: %s", e.StatusCode, e.Message)
}

// Client talks to one company account. Every request waits on a shared rate limiter.
type Client struct {
	baseURL      string
	partnerToken string
	userToken    string
	companyID    int64
	pageSize     int
	http         *http.Client
	limiter      *rate.Limiter
	loc          *time.Location
	log          *logrus.Entry
}

var _ booking.Source = (*Client)(nil)

func NewClient(cfg config.YClientsConfig, loc *time.Location, log *logrus.Entry) *Client {
	if loc == nil {
		loc = time.UTC
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.APIURL, "/"),
		partnerToken: cfg.PartnerToken,
		userToken:    cfg.UserToken,
		companyID:    cfg.CompanyID,
		pageSize:     pageSize,
		http:         &http.Client{Timeout: requestTimeout},
		limiter:      rate.NewLimiter(limit, 1),
		loc:          loc,
		log:          log,
	}
}

func (c *Client) PageSize() int {
	return c.pageSize
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

type meta struct {
	TotalCount int    `json:"total_count"`
	Message    string `json:"message"`
}

// meta is an object on success and sometimes an empty array.
func (e envelope) meta() meta {
	var m meta
	if len(e.Meta) > 0 && e.Meta[0] == '{' {
		_ = json.Unmarshal(e.Meta, &m)
	}
	return m
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("yclients rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s, User %s", c.partnerToken, c.userToken))
	req.Header.Set("Accept", "application/vnd.api.v2+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yclients %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read yclients response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.meta().Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode yclients response: %w", decodeErr)
	}
	if !env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.meta().Message}
	}
	return &env, nil
}

type recordDTO struct {
	ID       int64  `json:"id"`
	StaffID  int64  `json:"staff_id"`
	Date     string `json:"date"`
	Datetime string `json:"datetime"`
	Deleted  bool   `json:"deleted"`
	Staff    *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"staff"`
	Services []struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	} `json:"services"`
	Client *struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"client"`
}

func (c *Client) toRecord(d recordDTO) (appointment.Record, error) {
	at, err := c.parseTime(d.Datetime)
	if err != nil {
		if at, err = c.parseTime(d.Date); err != nil {
			return appointment.Record{}, fmt.Errorf("record %d: bad datetime %q", d.ID, d.Datetime)
		}
	}
	rec := appointment.Record{
		ID:          d.ID,
		StaffID:     d.StaffID,
		ScheduledAt: at,
		Deleted:     d.Deleted,
	}
	if d.Staff != nil {
		if rec.StaffID == 0 {
			rec.StaffID = d.Staff.ID
		}
		rec.StaffName = d.Staff.Name
	}
	for _, s := range d.Services {
		rec.ServiceIDs = append(rec.ServiceIDs, s.ID)
		rec.ServiceNames = append(rec.ServiceNames, s.Title)
	}
	if d.Client != nil {
		rec.CustomerID = d.Client.ID
		rec.CustomerName = d.Client.Name
		rec.CustomerPhone = customer.NormalizePhone(d.Client.Phone)
	}
	return rec, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// parseTime reads API timestamps; values without an offset are in the company timezone.
func (c *Client) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func (c *Client) ListAppointments(ctx context.Context, start, end time.Time, page int) (*booking.AppointmentPage, error) {
	q := url.Values{}
	q.Set("start_date", start.In(c.loc).Format("2006-01-02"))
	q.Set("end_date", end.In(c.loc).Format("2006-01-02"))
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(c.pageSize))

	env, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/records/%d", c.companyID), q, nil)
	if err != nil {
		return nil, err
	}
	var dtos []recordDTO
	if err := json.Unmarshal(env.Data, &dtos); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	out := &booking.AppointmentPage{TotalCount: env.meta().TotalCount}
	for _, d := range dtos {
		rec, err := c.toRecord(d)
		if err != nil {
			c.log.WithError(err).WithField("record_id", d.ID).Warn("Skipping record with unparseable time")
			continue
		}
		out.Records = append(out.Records, rec)
	}
	out.Skipped = len(dtos) - len(out.Records)
	return out, nil
}

func (c *Client) GetAppointment(ctx context.Context, id int64) (*appointment.Record, error) {
	env, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/record/%d/%d", c.companyID, id), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %d", booking.ErrAppointmentNotFound, id)
		}
		return nil, err
	}
	var d recordDTO
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec, err := c.toRecord(d)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ConfirmAppointment marks the visit as confirmed by the customer (attendance = 1).
func (c *Client) ConfirmAppointment(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/record/%d/%d", c.companyID, id), nil, map[string]int{"attendance": 1})
	return err
}

type clientDTO struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	LastVisitDate string `json:"last_visit_date"`
}

func (c *Client) ListCustomers(ctx context.Context, page int) (*booking.CustomerPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(c.pageSize))

	env, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/clients/%d", c.companyID), q, nil)
	if err != nil {
		return nil, err
	}
	var dtos []clientDTO
	if err := json.Unmarshal(env.Data, &dtos); err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}

	out := &booking.CustomerPage{TotalCount: env.meta().TotalCount}
	for _, d := range dtos {
		cust := customer.Customer{
			ID:    d.ID,
			Name:  d.Name,
			Phone: customer.NormalizePhone(d.Phone),
		}
		if d.LastVisitDate != "" {
			if t, err := c.parseTime(d.LastVisitDate); err == nil {
				cust.LastVisit = t
			}
		}
		out.Customers = append(out.Customers, cust)
	}
	return out, nil
}

package booking

import (
	"Rendezvous/internal/api/config"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrUnavailable     = errors.New("booking service unavailable")
)

// Participants 预约双方
type Participants struct {
	BookingID  string `json:"bookingId"`
	CustomerID string `json:"customerId"`
	ProviderID string `json:"providerId"`
	Active     bool   `json:"active"`
}

// Client 预约服务的只读视图
type Client interface {
	GetParticipants(ctx context.Context, bookingID string) (*Participants, error)
}

type clientImpl struct {
	http *resty.Client
}

func NewClient(cfg config.BookingConfig) Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100*time.Millisecond).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &clientImpl{http: c}
}

// GetParticipants 查询预约参与者
func (s *clientImpl) GetParticipants(ctx context.Context, bookingID string) (*Participants, error) {
	var out Participants
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParam("id", bookingID).
		SetResult(&out).
		Get("/internal/bookings/{id}/participants")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrBookingNotFound
	case resp.IsError():
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}

	if out.CustomerID == "" || out.ProviderID == "" {
		return nil, ErrBookingNotFound
	}
	if out.BookingID == "" {
		out.BookingID = bookingID
	}
	return &out, nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const csrfHeader = "X-CSRF-Token"

// Config controls how the clinic API client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the remote clinic API for one authenticated session. It
// holds that session's cookie jar and CSRF token, so a Client must not be
// shared across sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu   sync.Mutex
	csrf string
}

// New creates a configured Client with its own cookie jar.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("backend: cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CSRFToken returns the token currently attached to outgoing requests.
func (c *Client) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

func (c *Client) setCSRF(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

// do issues one JSON request. On 401 it refreshes the session once, adopting
// a rotated CSRF token from the refresh response header, and retries the
// original request once. Non-2xx responses decode into {message} with the
// per-operation fallback; 2xx bodies that fail to decode are ignored, the
// caller gets zero values.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}, fallback string) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if refreshed := c.refresh(ctx); refreshed {
			resp, err = c.send(ctx, method, path, body)
			if err != nil {
				return err
			}
		} else {
			return &APIError{StatusCode: http.StatusUnauthorized, Message: fallback}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		msg := envelope.Message
		if msg == "" {
			msg = fallback
		}
		c.logger.Warn("clinic api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		// tolerate empty or malformed success bodies
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.CSRFToken(); token != "" {
		req.Header.Set(csrfHeader, token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) refresh(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("session refresh failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	c.setCSRF(resp.Header.Get(csrfHeader))
	return true
}

// Login authenticates and captures the session's CSRF token. Upstream
// session cookies land in the jar.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out, "No se pudo completar la solicitud")
	if err != nil {
		return nil, err
	}
	c.setCSRF(out.CSRFToken)
	return &out, nil
}

// Logout terminates the upstream session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, "No se pudo cerrar sesion")
}

// Patients lists every patient.
func (c *Client) Patients(ctx context.Context) ([]Patient, error) {
	var out struct {
		Patients []Patient `json:"patients"`
	}
	if err := c.do(ctx, http.MethodGet, "/patients", nil, &out, "No se pudieron obtener pacientes"); err != nil {
		return nil, err
	}
	return out.Patients, nil
}

// CreatePatient registers a new patient.
func (c *Client) CreatePatient(ctx context.Context, payload Patient) (*Patient, error) {
	var out struct {
		Patient *Patient `json:"patient"`
	}
	if err := c.do(ctx, http.MethodPost, "/patients", payload, &out, "No se pudo crear el paciente"); err != nil {
		return nil, err
	}
	return out.Patient, nil
}

// Patient fetches one patient aggregate.
func (c *Client) Patient(ctx context.Context, id int64) (*Patient, error) {
	var out struct {
		Patient *Patient `json:"patient"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patients/%d", id), nil, &out, "No se pudo obtener el paciente"); err != nil {
		return nil, err
	}
	if out.Patient == nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "No se pudo obtener el paciente"}
	}
	return out.Patient, nil
}

// PatientAppointments lists a patient's appointments.
func (c *Client) PatientAppointments(ctx context.Context, id int64) ([]Appointment, error) {
	var out struct {
		Appointments []Appointment `json:"appointments"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patients/%d/appointments", id), nil, &out, "No se pudieron obtener los turnos del paciente"); err != nil {
		return nil, err
	}
	return out.Appointments, nil
}

// UpdatePatient applies a partial update. Each field present replaces the
// stored value wholesale.
func (c *Client) UpdatePatient(ctx context.Context, id int64, patch PatientPatch) (*Patient, error) {
	var out struct {
		Patient *Patient `json:"patient"`
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/patients/%d", id), patch, &out, "No se pudo actualizar el paciente"); err != nil {
		return nil, err
	}
	return out.Patient, nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to the scribelined HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type appointmentView struct {
	ID            string     `json:"id"`
	PatientRef    string     `json:"patient_ref"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type eventView struct {
	Seq       int64     `json:"seq"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
}

type verifyView struct {
	OK        bool   `json:"ok"`
	Events    int64  `json:"events"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type healthView struct {
	Total      int `json:"Total"`
	Ready      int `json:"Ready"`
	Processing int `json:"Processing"`
	Completed  int `json:"Completed"`
	Failed     int `json:"Failed"`
}

type statusView struct {
	Running bool       `json:"running"`
	Health  healthView `json:"health"`
}

type logsView struct {
	Lines      []string `json:"lines"`
	NextOffset int64    `json:"next_offset"`
}

func newAPIClient(addr, token string) *apiClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) raw(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (%s)", payload.Error, resp.Status)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}

func (c *apiClient) submit(patientRef, audioBase64 string) (appointmentView, error) {
	var view appointmentView
	err := c.do(http.MethodPost, "/api/appointments", map[string]string{
		"patient_ref": patientRef,
		"audio":       audioBase64,
	}, &view)
	return view, err
}

func (c *apiClient) list(status string) ([]appointmentView, error) {
	path := "/api/appointments"
	if status != "" {
		path += "?status=" + status
	}
	var views []appointmentView
	err := c.do(http.MethodGet, path, nil, &views)
	return views, err
}

func (c *apiClient) get(id string) (appointmentView, error) {
	var view appointmentView
	err := c.do(http.MethodGet, "/api/appointments/"+id, nil, &view)
	return view, err
}

func (c *apiClient) events(id string) ([]eventView, error) {
	var views []eventView
	err := c.do(http.MethodGet, "/api/appointments/"+id+"/events", nil, &views)
	return views, err
}

func (c *apiClient) artifact(id, kind string) ([]byte, error) {
	return c.raw("/api/appointments/" + id + "/artifacts/" + kind)
}

func (c *apiClient) verify() (verifyView, error) {
	var view verifyView
	err := c.do(http.MethodGet, "/api/audit/verify", nil, &view)
	return view, err
}

func (c *apiClient) status() (statusView, error) {
	var view statusView
	err := c.do(http.MethodGet, "/api/status", nil, &view)
	return view, err
}

func (c *apiClient) logs(offset int64, limit int) (logsView, error) {
	var view logsView
	err := c.do(http.MethodGet, fmt.Sprintf("/api/logs?offset=%d&limit=%d", offset, limit), nil, &view)
	return view, err
}

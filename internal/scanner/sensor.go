package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SensorClient drives a real fingerprint reader exposed as a microservice.
// It satisfies Scanner so the session controller does not care whether reads
// come from hardware or the simulator.
type SensorClient struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewSensorClient creates a client with configurable timeout.
func NewSensorClient(baseURL string, skip bool) *SensorClient {
	return &SensorClient{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // hardware reads can take time
		},
	}
}

// Scan asks the sensor service for one read of the given student.
func (c *SensorClient) Scan(ctx context.Context, studentID string) (Attempt, error) {
	if c.Skip {
		now := time.Now().UTC()
		return Attempt{
			StudentID:             studentID,
			Outcome:               OutcomeSuccess,
			CapturedFingerprintID: SynthTemplate(studentID, now),
			Timestamp:             now,
		}, nil
	}
	if studentID == "" {
		return Attempt{}, fmt.Errorf("student id required")
	}

	body, _ := json.Marshal(map[string]string{"studentId": studentID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return Attempt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Attempt{}, fmt.Errorf("sensor service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Attempt{}, fmt.Errorf("sensor service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Outcome       string `json:"outcome"`
		FingerprintID string `json:"fingerprintId"`
		Timestamp     int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Attempt{}, fmt.Errorf("failed to decode response: %w", err)
	}

	att := Attempt{
		StudentID:             studentID,
		Outcome:               Outcome(out.Outcome),
		CapturedFingerprintID: out.FingerprintID,
		Timestamp:             time.UnixMilli(out.Timestamp).UTC(),
	}
	if att.Timestamp.IsZero() || out.Timestamp == 0 {
		att.Timestamp = time.Now().UTC()
	}
	switch att.Outcome {
	case OutcomeSuccess, OutcomeFailed, OutcomeSuspicious:
	default:
		return Attempt{}, fmt.Errorf("sensor returned unknown outcome %q", out.Outcome)
	}
	return att, nil
}

// Health checks if the sensor service is available.
func (c *SensorClient) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sensor service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sensor service unhealthy: %s", resp.Status)
	}

	return nil
}

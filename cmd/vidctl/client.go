package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// CreateSessionRequest matches internal/http CreateSessionRequest
type CreateSessionRequest struct {
	AIModel      string `json:"aiModel,omitempty"`
	AnalysisMode string `json:"analysisMode,omitempty"`
	KeepVideo    bool   `json:"keepVideo"`
	StorageType  string `json:"storageType,omitempty"`
}

// SessionResponse matches internal/http SessionResponse
type SessionResponse struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	Title              string  `json:"title"`
	AIModel            string  `json:"aiModel"`
	AnalysisMode       string  `json:"analysisMode"`
	KeepVideo          bool    `json:"keepVideo"`
	StorageType        string  `json:"storageType"`
	CurrentVideoLength float64 `json:"currentVideoLength"`
	TotalChunks        int     `json:"totalChunks"`
	AnalyzedChunks     int     `json:"analyzedChunks"`
}

// UpdateTitleRequest matches internal/http UpdateTitleRequest
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// ConfigResponse matches internal/http ConfigResponse
type ConfigResponse struct {
	WindowSize               float64 `json:"windowSize"`
	WindowStep               float64 `json:"windowStep"`
	MinWindowSize            float64 `json:"minWindowSize"`
	RecommendedChunkDuration float64 `json:"recommendedChunkDuration"`
}

// RecordResponse matches internal/http RecordResponse
type RecordResponse struct {
	WindowIndex int     `json:"windowIndex"`
	Content     string  `json:"content"`
	StartOffset float64 `json:"startOffset"`
	EndOffset   float64 `json:"endOffset"`
}

// ChunkAccepted matches internal/http ChunkAccepted
type ChunkAccepted struct {
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
	Status     string `json:"status"`
}

type client struct {
	base string
	user string
	http *http.Client
}

func newClient() *client {
	return &client{
		base: serverURL,
		user: userID,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) do(req *http.Request, out any) error {
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) postJSON(path string, body, out any) error {
	return c.sendJSON(http.MethodPost, path, body, out)
}

func (c *client) putJSON(path string, body, out any) error {
	return c.sendJSON(http.MethodPut, path, body, out)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *client) sendJSON(method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) uploadChunk(sessionID string, index int, duration float64, last bool, file string, out any) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chunkIndex", strconv.Itoa(index))
	_ = w.WriteField("duration", strconv.FormatFloat(duration, 'f', -1, 64))
	_ = w.WriteField("isLast", strconv.FormatBool(last))
	fw, err := w.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/v1/sessions/"+sessionID+"/chunks", &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, out)
}

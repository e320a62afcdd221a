// Package model talks to the external Zonos inference backend.
//
// The neural model (speaker embedding, conditioning, autoregressive code
// generation, autoencoder) runs in a standalone service. This package owns
// the HTTP contract with that service and the lazy, once-per-process model
// handles the job handler works with.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/core"
)

// API endpoints and paths.
const (
	apiHealth           = "/health"
	apiLoadModel        = "/v1/models/load"
	apiSpeakerEmbedding = "/v1/speaker-embedding"
	apiGenerate         = "/v1/generate"
	apiDecode           = "/v1/decode"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "zonos service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "zonos service returned non-OK status: %s, body: %s"
	errFmtUnexpectedType       = "unexpected content type: expected %s, got %s"
)

var (
	// ErrModelNameEmpty indicates a request without a model name.
	ErrModelNameEmpty = errors.New("model name cannot be empty")
	// ErrEmptyEmbedding indicates that the backend returned no speaker embedding.
	ErrEmptyEmbedding = errors.New("received empty speaker embedding")
	// ErrEmptyCodes indicates that the backend generated no codes.
	ErrEmptyCodes = errors.New("received empty codes")
	// ErrEmptyAudio indicates that the backend decoded no audio.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrInvalidSamplingRate indicates a non-positive sampling rate from the backend.
	ErrInvalidSamplingRate = errors.New("received invalid sampling rate")
)

// Client represents a client for the Zonos inference service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest asks the backend to load pretrained weights.
type LoadRequest struct {
	// Model is the pretrained repository id, e.g. "Zyphra/Zonos-v0.1-transformer".
	Model string `json:"model"`
}

// LoadResponse reports a loaded model.
type LoadResponse struct {
	// Model is the name later requests must use. It may be empty, in which
	// case the requested repository id is used.
	Model string `json:"model"`
	// SamplingRate is the rate, in Hz, of every waveform Decode returns.
	SamplingRate int `json:"sampling_rate"`
}

// EmbeddingRequest carries a WAV reference clip.
type EmbeddingRequest struct {
	// Model names a model previously returned by LoadModel.
	Model string `json:"model"`
	// Audio is the reference clip as standard base64 of a WAV file.
	Audio string `json:"audio"`
}

// EmbeddingResponse carries the speaker embedding.
type EmbeddingResponse struct {
	// Embedding is the speaker vector. An empty vector is an error.
	Embedding core.SpeakerEmbedding `json:"embedding"`
}

// GenerateRequest carries conditioning and sampling options.
//
// The sampling options are inlined at the top level of the JSON body next to
// model and conditioning, as cfg_scale, max_new_tokens and seed.
type GenerateRequest struct {
	// Model names a model previously returned by LoadModel.
	Model string `json:"model"`
	// Conditioning is the prefix the model is conditioned on. Keys listed in
	// UnconditionalKeys are ignored by the backend.
	Conditioning core.Conditioning `json:"conditioning"`
	// GenerateOptions controls sampling. A nil Seed lets the backend pick one.
	core.GenerateOptions
}

// GenerateResponse carries generated codes.
type GenerateResponse struct {
	// Codes is one row of audio tokens per codebook. An empty result is an error.
	Codes core.Codes `json:"codes"`
}

// DecodeRequest carries codes to turn into a waveform.
//
// The backend answers with the raw WAV file, not JSON, so the request is sent
// with an Accept header of audio/wav.
type DecodeRequest struct {
	// Model names the model that generated Codes.
	Model string `json:"model"`
	// Codes are the tokens returned by Generate, unchanged.
	Codes core.Codes `json:"codes"`
}

// ErrorResponse represents a structured error response from the service.
type ErrorResponse struct {
	// Detail is the human readable message.
	Detail string `json:"detail"`
	// ErrorCode is an optional machine readable code.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the service at baseURL (e.g. "http://localhost:8000").
// The timeout applies to every request made by this client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the service is running.
//
// Any status other than 200 OK is reported as an error. The check does not
// load a model, so it stays cheap enough for readiness probes.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// LoadModel loads pretrained weights on the backend and returns their sampling rate.
//
// Loading is idempotent on the backend but slow, so callers should go through
// Loader, which loads each variant once per process. ErrModelNameEmpty is
// returned for an empty name and ErrInvalidSamplingRate when the backend
// reports a non-positive rate. When the backend omits the model name, the
// requested name is returned in its place.
func (c *Client) LoadModel(ctx context.Context, name string) (LoadResponse, error) {
	if name == "" {
		return LoadResponse{}, ErrModelNameEmpty
	}

	var resp LoadResponse

	err := c.postJSON(ctx, apiLoadModel, LoadRequest{Model: name}, &resp)
	if err != nil {
		return LoadResponse{}, fmt.Errorf("failed to load model %s: %w", name, err)
	}

	if resp.SamplingRate <= 0 {
		return LoadResponse{}, fmt.Errorf("%w: %d", ErrInvalidSamplingRate, resp.SamplingRate)
	}

	if resp.Model == "" {
		resp.Model = name
	}

	return resp, nil
}

// MakeSpeakerEmbedding derives a speaker embedding from a WAV clip.
//
// The clip is sent base64 encoded. It should already be normalized to WAV
// and checked for length and layout.
// ErrEmptyEmbedding is returned when the backend answers with no vector.
func (c *Client) MakeSpeakerEmbedding(ctx context.Context, name string, wav []byte) (core.SpeakerEmbedding, error) {
	var resp EmbeddingResponse

	err := c.postJSON(ctx, apiSpeakerEmbedding, EmbeddingRequest{
		Model: name,
		Audio: audio.EncodeBase64(wav),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to make speaker embedding: %w", err)
	}

	if len(resp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return resp.Embedding, nil
}

// Generate runs the autoregressive model and returns the codes.
//
// This is the long running step of a job: ctx should carry the job deadline,
// and the client timeout must be at least as long. ErrEmptyCodes is returned
// when nothing was generated.
func (c *Client) Generate(
	ctx context.Context,
	name string,
	cond core.Conditioning,
	opts core.GenerateOptions,
) (core.Codes, error) {
	var resp GenerateResponse

	err := c.postJSON(ctx, apiGenerate, GenerateRequest{
		Model:           name,
		Conditioning:    cond,
		GenerateOptions: opts,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to generate codes: %w", err)
	}

	if len(resp.Codes) == 0 {
		return nil, ErrEmptyCodes
	}

	return resp.Codes, nil
}

// Decode turns codes into a WAV waveform with the model's autoencoder.
//
// The response body is returned as is. It is a WAV file at the sampling rate
// LoadModel reported. A response with any other content type is rejected, as
// is an empty body (ErrEmptyAudio). Non-OK statuses are turned into errors
// carrying the backend's detail and error code when it sends them.
func (c *Client) Decode(ctx context.Context, name string, codes core.Codes) ([]byte, error) {
	httpReq, err := c.newJSONRequest(ctx, apiDecode, DecodeRequest{Model: name, Codes: codes})
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to zonos service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// postJSON sends body as JSON and decodes a 200 OK JSON answer into target.
func (c *Client) postJSON(ctx context.Context, path string, body, target any) error {
	httpReq, err := c.newJSONRequest(ctx, path, body)
	if err != nil {
		return err
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to zonos service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	return httpReq, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

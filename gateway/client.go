// Package gateway is the HTTP client for the coordination backend: room
// create/join, device listing, the transfer-request handshake, and file
// upload/download. Every state change in the rest of the system goes
// through one of these calls.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/models"
)

const (
	// DefaultRequestTimeout bounds room and poll calls.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultTransferTimeout bounds file upload and download calls.
	DefaultTransferTimeout = 120 * time.Second
)

// Client talks to one gateway base URL.
type Client struct {
	baseURL  string
	http     *http.Client
	transfer *http.Client
	logger   zerolog.Logger
}

// New creates a gateway client for the given base URL.
func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultRequestTimeout},
		transfer: &http.Client{Timeout: DefaultTransferTimeout},
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// CreateRoom registers a new room owned by the local device.
func (c *Client) CreateRoom(ctx context.Context, deviceName string, deviceType models.DeviceType, username string) (*RoomInfo, error) {
	body := registerRequest{
		DeviceName: deviceName,
		DeviceType: deviceType,
		Username:   username,
	}

	var info RoomInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/rooms", body, &info); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &info, nil
}

// JoinRoom joins an existing room. Codes are case-insensitive on the
// gateway side; the client upper-cases before submitting.
func (c *Client) JoinRoom(ctx context.Context, roomCode, deviceName string, deviceType models.DeviceType, username string) (*RoomInfo, error) {
	code := NormalizeRoomCode(roomCode)
	body := registerRequest{
		DeviceName: deviceName,
		DeviceType: deviceType,
		Username:   username,
	}

	var info RoomInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(code)+"/join", body, &info); err != nil {
		return nil, fmt.Errorf("join room %q: %w", code, err)
	}
	return &info, nil
}

// RoomDevices fetches the current membership of a room.
func (c *Client) RoomDevices(ctx context.Context, roomCode string) (*DeviceList, error) {
	code := NormalizeRoomCode(roomCode)

	var list DeviceList
	if err := c.doJSON(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(code)+"/devices", nil, &list); err != nil {
		return nil, fmt.Errorf("list room devices: %w", err)
	}
	return &list, nil
}

// PendingRequests fetches unresolved inbound transfer offers for a device.
func (c *Client) PendingRequests(ctx context.Context, deviceID string) ([]PendingRequest, error) {
	var resp pendingRequestsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(deviceID)+"/requests", nil, &resp); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return resp.Requests, nil
}

// RespondToTransfer accepts or rejects one inbound transfer request.
func (c *Client) RespondToTransfer(ctx context.Context, requestID, response string) error {
	if response != ResponseAccept && response != ResponseReject {
		return fmt.Errorf("invalid transfer response %q", response)
	}

	body := respondRequest{Response: response}
	if err := c.doJSON(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/respond", body, nil); err != nil {
		return fmt.Errorf("respond to transfer %q: %w", requestID, err)
	}
	return nil
}

// RequestTransfer offers one file to a target device and uploads its
// payload. The returned transfer ID identifies the offer gateway-side.
func (c *Client) RequestTransfer(ctx context.Context, deviceID string, file models.FileInfo) (string, error) {
	source, err := os.Open(file.Path)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	defer source.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("file_name", file.Name); err != nil {
		return "", fmt.Errorf("write file_name field: %w", err)
	}
	if err := writer.WriteField("file_size", fmt.Sprintf("%d", file.Size)); err != nil {
		return "", fmt.Errorf("write file_size field: %w", err)
	}
	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, source); err != nil {
		return "", fmt.Errorf("copy payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	endpoint := c.baseURL + "/api/devices/" + url.PathEscape(deviceID) + "/transfers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.transfer.Do(req)
	if err != nil {
		return "", fmt.Errorf("request transfer: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("request transfer: %w", err)
	}

	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transfer response: %w", err)
	}
	return out.TransferID, nil
}

// DownloadFile retrieves the payload of an accepted transfer request. The
// returned name comes from the Content-Disposition header when present.
func (c *Client) DownloadFile(ctx context.Context, requestID string) ([]byte, string, error) {
	endpoint := c.baseURL + "/api/requests/" + url.PathEscape(requestID) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download payload: %w", err)
	}

	return payload, dispositionFilename(resp.Header.Get("Content-Disposition")), nil
}

// NormalizeRoomCode upper-cases and trims a user-entered room code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("endpoint", endpoint).Msg("gateway call")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
	}
	return apiErr
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if value, found := strings.CutPrefix(part, "filename="); found {
			return path.Base(strings.Trim(value, `"`))
		}
	}
	return ""
}

// Package blossom is a client for Blossom blob servers: authorized upload,
// listing and deletion of media blobs.
package blossom

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// BlobDescriptor is a server-side record of one stored blob.
type BlobDescriptor struct {
	URL      string `json:"url"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Type     string `json:"type,omitempty"`
	Uploaded int64  `json:"uploaded,omitempty"`
	Created  int64  `json:"created,omitempty"`
}

// UploadedAt returns the blob's storage time. Some servers report it as
// "created" instead of "uploaded".
func (b BlobDescriptor) UploadedAt() time.Time {
	ts := b.Uploaded
	if ts == 0 {
		ts = b.Created
	}
	return time.Unix(ts, 0)
}

// Client talks to one Blossom server, signing every request with the agent's
// key.
type Client struct {
	baseURL    string
	privateKey string
	httpClient *http.Client
	logger     *slog.Logger

	now func() time.Time
}

// NewClient creates a Blossom client for the given server.
func NewClient(baseURL, privateKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
		now:        time.Now,
	}
}

// Upload stores the file on the server and returns its descriptor. The
// upload authorization is bound to the file's sha256.
func (c *Client) Upload(ctx context.Context, path, contentType string) (BlobDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BlobDescriptor{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	token, err := authToken(c.privateKey, "upload", hash, c.now())
	if err != nil {
		return BlobDescriptor{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return BlobDescriptor{}, err
	}
	req.Header.Set("Authorization", "Nostr "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BlobDescriptor{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return BlobDescriptor{}, fmt.Errorf("upload rejected: %s: %s", resp.Status, readError(resp.Body))
	}

	var blob BlobDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&blob); err != nil {
		return BlobDescriptor{}, fmt.Errorf("failed to parse upload response: %w", err)
	}

	c.logger.Info("Uploaded blob",
		slog.String("sha256", blob.SHA256),
		slog.Int64("size", blob.Size),
	)
	return blob, nil
}

// List returns every blob the server stores for the pubkey.
func (c *Client) List(ctx context.Context, pubkey string) ([]BlobDescriptor, error) {
	token, err := authToken(c.privateKey, "list", "", c.now())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list/"+pubkey, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Nostr "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rejected: %s: %s", resp.Status, readError(resp.Body))
	}

	var blobs []BlobDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&blobs); err != nil {
		return nil, fmt.Errorf("failed to parse blob list: %w", err)
	}
	return blobs, nil
}

// Delete removes the blob with the given sha256 from the server.
func (c *Client) Delete(ctx context.Context, hash string) error {
	token, err := authToken(c.privateKey, "delete", hash, c.now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/"+hash, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Nostr "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete rejected: %s: %s", resp.Status, readError(resp.Body))
	}
	return nil
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}

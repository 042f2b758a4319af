package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
)

// Response codes mutating catalog requests opt in to retrying. Everything
// else surfaces immediately to the caller as terminal.
var defaultRetryCodes = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// CreateItemRequest creates one catalog item in a data stream.
type CreateItemRequest struct {
	IdempotentRequest
	RetryTracker

	streamName string
	item       map[string]any
}

// NewCreateItemRequest returns a request creating item in the given stream.
func NewCreateItemRequest(streamName string, item map[string]any) *CreateItemRequest {
	r := &CreateItemRequest{streamName: streamName, item: item}
	r.SetRetryCodes(defaultRetryCodes...)
	return r
}

// Method implements Request.
func (r *CreateItemRequest) Method() string { return http.MethodPost }

// Endpoint implements Request.
func (r *CreateItemRequest) Endpoint() string { return path.Join("streams", r.streamName, "items") }

// Payload implements Request.
func (r *CreateItemRequest) Payload() ([]byte, string, error) {
	body, err := json.Marshal(r.item)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal item: %v", err)
	}
	return body, "application/json", nil
}

// UpdateItemRequest updates one catalog item in a data stream.
type UpdateItemRequest struct {
	IdempotentRequest
	RetryTracker

	streamName string
	itemID     string
	item       map[string]any
}

// NewUpdateItemRequest returns a request updating item itemID in the given stream.
func NewUpdateItemRequest(streamName, itemID string, item map[string]any) *UpdateItemRequest {
	r := &UpdateItemRequest{streamName: streamName, itemID: itemID, item: item}
	r.SetRetryCodes(defaultRetryCodes...)
	return r
}

// Method implements Request.
func (r *UpdateItemRequest) Method() string { return http.MethodPut }

// Endpoint implements Request.
func (r *UpdateItemRequest) Endpoint() string {
	return path.Join("streams", r.streamName, "items", r.itemID)
}

// Payload implements Request.
func (r *UpdateItemRequest) Payload() ([]byte, string, error) {
	body, err := json.Marshal(r.item)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal item: %v", err)
	}
	return body, "application/json", nil
}

// DeleteItemRequest deletes one catalog item from a data stream.
type DeleteItemRequest struct {
	IdempotentRequest
	RetryTracker

	streamName string
	itemID     string
}

// NewDeleteItemRequest returns a request deleting item itemID from the given stream.
func NewDeleteItemRequest(streamName, itemID string) *DeleteItemRequest {
	r := &DeleteItemRequest{streamName: streamName, itemID: itemID}
	r.SetRetryCodes(defaultRetryCodes...)
	return r
}

// Method implements Request.
func (r *DeleteItemRequest) Method() string { return http.MethodDelete }

// Endpoint implements Request.
func (r *DeleteItemRequest) Endpoint() string {
	return path.Join("streams", r.streamName, "items", r.itemID)
}

// Payload implements Request.
func (r *DeleteItemRequest) Payload() ([]byte, string, error) {
	return nil, "", nil
}

// UploadFeedRequest uploads a finalized feed file to a data stream.
type UploadFeedRequest struct {
	IdempotentRequest
	RetryTracker

	streamName string
	data       []byte
}

// NewUploadFeedRequest returns a request uploading the given feed file contents.
func NewUploadFeedRequest(streamName string, data []byte) *UploadFeedRequest {
	r := &UploadFeedRequest{streamName: streamName, data: data}
	r.SetRetryCodes(defaultRetryCodes...)
	return r
}

// Method implements Request.
func (r *UploadFeedRequest) Method() string { return http.MethodPost }

// Endpoint implements Request.
func (r *UploadFeedRequest) Endpoint() string { return path.Join("streams", r.streamName, "file") }

// Payload implements Request.
func (r *UploadFeedRequest) Payload() ([]byte, string, error) {
	return r.data, "text/csv", nil
}

// CreateItem creates one catalog item in the given stream.
func (c *Client) CreateItem(ctx context.Context, streamName string, item map[string]any) error {
	_, err := c.Do(ctx, NewCreateItemRequest(streamName, item))
	return err
}

// UpdateItem updates one catalog item in the given stream.
func (c *Client) UpdateItem(ctx context.Context, streamName, itemID string, item map[string]any) error {
	_, err := c.Do(ctx, NewUpdateItemRequest(streamName, itemID, item))
	return err
}

// DeleteItem deletes one catalog item from the given stream.
func (c *Client) DeleteItem(ctx context.Context, streamName, itemID string) error {
	_, err := c.Do(ctx, NewDeleteItemRequest(streamName, itemID))
	return err
}

// UploadFeed uploads the published feed file at feedPath to the given stream.
func (c *Client) UploadFeed(ctx context.Context, streamName, feedPath string) error {
	data, err := os.ReadFile(feedPath)
	if err != nil {
		return fmt.Errorf("failed to read feed file: %v", err)
	}
	_, err = c.Do(ctx, NewUploadFeedRequest(streamName, data))
	return err
}

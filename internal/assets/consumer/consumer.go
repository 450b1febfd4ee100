// Package consumer reconciles the asset catalogue with the bucket. When an
// original object disappears from storage (lifecycle rule, console delete, a
// bulk cleanup job) the owning catalogue row and its derived variants are
// removed so listings never render dead URLs.
package consumer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/storagekey"
)

const (
	objectDeleteEvent    = "OBJECT_DELETE"
	payloadFormatJSONAPI = "JSON_API_V1"
)

type assetLookup interface {
	FindByStoredFilename(ctx context.Context, listingID uuid.UUID, storedFilename string) (*models.Asset, error)
}

type catalogue interface {
	Delete(ctx context.Context, scope string, assetID uuid.UUID) error
}

// Consumer watches Pub/Sub for GCS OBJECT_DELETE notifications and removes
// catalogue rows whose original object is gone.
type Consumer struct {
	lookup       assetLookup
	catalogue    catalogue
	subscription *pubsub.Subscriber
	logg         *logger.Logger
	scope        string
}

// NewConsumer wires the dependencies required for catalogue reconciliation.
func NewConsumer(lookup assetLookup, cat catalogue, subscription *pubsub.Subscriber, logg *logger.Logger, scope string) (*Consumer, error) {
	if lookup == nil {
		return nil, errors.New("asset lookup is required")
	}
	if cat == nil {
		return nil, errors.New("asset catalogue is required")
	}
	if subscription == nil {
		return nil, errors.New("storage events subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("storage scope is required")
	}
	return &Consumer{
		lookup:       lookup,
		catalogue:    cat,
		subscription: subscription,
		logg:         logg,
		scope:        scope,
	}, nil
}

// Run processes deletion notifications until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	attrs := parseAttributes(msg.Attributes)
	fields := c.buildLogFields(msg.ID, attrs, nil)
	logCtx := c.logg.WithFields(ctx, fields)

	if attrs.EventType != objectDeleteEvent {
		c.logg.Info(logCtx, "skipping non-delete event")
		return processResult{ack: true}
	}
	if attrs.PayloadFormat != payloadFormatJSONAPI {
		c.logg.Warn(logCtx, "unsupported payload format")
		return processResult{ack: true}
	}

	payload, err := decodePayload(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}

	var gcs gcsPayload
	if err := json.Unmarshal(payload, &gcs); err != nil {
		fields = c.buildLogFields(msg.ID, attrs, nil)
		fields["payload_preview"] = previewBytes(payload, 800)
		fields["payload_len"] = len(payload)
		logCtx = c.logg.WithFields(ctx, fields)
		c.logg.Error(logCtx, "failed to unmarshal payload", err)
		return processResult{ack: true}
	}

	if gcs.Name == "" {
		fields = c.buildLogFields(msg.ID, attrs, &gcs)
		logCtx = c.logg.WithFields(ctx, fields)
		c.logg.Error(logCtx, "payload missing object name", fmt.Errorf("empty name"))
		return processResult{ack: true}
	}

	fields = c.buildLogFields(msg.ID, attrs, &gcs)
	logCtx = c.logg.WithFields(ctx, fields)

	parsed, err := storagekey.Parse(gcs.Name)
	if err != nil {
		c.logg.Warn(logCtx, "object key outside the catalogue layout")
		return processResult{ack: true}
	}
	if parsed.Scope != c.scope {
		c.logg.Info(logCtx, "skipping event from another scope")
		return processResult{ack: true}
	}
	if parsed.Variant != enums.VariantOriginal {
		// Derived variants are rebuildable; losing one never invalidates
		// the catalogue row.
		c.logg.Info(logCtx, "skipping derived variant deletion")
		return processResult{ack: true}
	}

	asset, err := c.lookup.FindByStoredFilename(logCtx, parsed.ListingID, parsed.Filename)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(logCtx, "no catalogue row for deleted original")
			return processResult{ack: true}
		}
		return c.handleDBError(logCtx, err)
	}

	logCtx = c.logg.WithAssetID(logCtx, asset.ID.String())
	if err := c.catalogue.Delete(ctx, c.scope, asset.ID); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			// Another worker already reconciled this event.
			c.logg.Info(logCtx, "catalogue row already removed")
			return processResult{ack: true}
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeStorage) {
			c.logg.Error(logCtx, "variant sweep unavailable, retrying", err)
			return processResult{nack: true}
		}
		return c.handleDBError(logCtx, err)
	}

	c.logg.Info(logCtx, "catalogue row removed for deleted original")
	return processResult{ack: true}
}

func (c *Consumer) handleDBError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "catalogue persistence error", err)
	if isTransientDBError(err) {
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) buildLogFields(messageID string, attrs gcsAttributes, payload *gcsPayload) map[string]any {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": attrs.EventType,
		"bucket":     firstNonEmpty(attrs.BucketID, payloadBucket(payload)),
	}
	if payload != nil {
		fields["object_key"] = payload.Name
	}
	return fields
}

func payloadBucket(p *gcsPayload) string {
	if p == nil {
		return ""
	}
	return p.Bucket
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseAttributes(attrs map[string]string) gcsAttributes {
	return gcsAttributes{
		EventType:     attrs["eventType"],
		BucketID:      attrs["bucketId"],
		ObjectID:      attrs["objectId"],
		PayloadFormat: attrs["payloadFormat"],
	}
}

type gcsAttributes struct {
	EventType     string
	BucketID      string
	ObjectID      string
	PayloadFormat string
}

type gcsPayload struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Generation  string `json:"generation"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

func decodePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("payload empty")
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		return decoded, nil
	}
	return data, nil
}

func isTransientDBError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func previewBytes(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}

/*
Copyright 2021 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

const errNotificationNotFound = "notification config %q not found"

// knownEventTypes are the change event names configs may subscribe to.
// OBJECT_ARCHIVE is accepted for config compatibility; the emulator never
// emits it.
var knownEventTypes = map[string]bool{
	store.EventFinalize:       true,
	store.EventDelete:         true,
	store.EventMetadataUpdate: true,
	"OBJECT_ARCHIVE":          true,
}

var webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gcp_emulator",
	Subsystem: "storage",
	Name:      "webhook_deliveries_total",
	Help:      "Webhook notification deliveries by outcome.",
}, []string{"outcome"})

// CreateNotification registers a webhook config on a bucket. The topic
// field carries the webhook URL; the emulator posts change payloads to it
// instead of publishing to Pub/Sub.
func (s *Service) CreateNotification(bucket string, n *storage.Notification) (*storage.Notification, error) {
	var (
		rec   *store.NotificationConfig
		bname string
	)
	err := s.store.Update(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		if n.Topic == "" {
			return apierror.Invalid("notification topic (webhook URL) is required")
		}
		for _, et := range n.EventTypes {
			if !knownEventTypes[et] {
				return apierror.Invalid("unknown event type %q", et)
			}
		}
		b.NextNotification++
		rec = &store.NotificationConfig{
			ID:               strconv.FormatInt(b.NextNotification, 10),
			WebhookURL:       n.Topic,
			ObjectNamePrefix: n.ObjectNamePrefix,
			EventTypes:       append([]string{}, n.EventTypes...),
			PayloadFormat:    n.PayloadFormat,
			CreatedAt:        s.now(),
		}
		if rec.PayloadFormat == "" {
			rec.PayloadFormat = "JSON_API_V1"
		}
		if b.Notifications == nil {
			b.Notifications = map[string]*store.NotificationConfig{}
		}
		b.Notifications[rec.ID] = rec
		bname = b.Name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GenerateNotification(bname, rec), nil
}

// ListNotifications lists a bucket's webhook configs.
func (s *Service) ListNotifications(bucket string) (*storage.Notifications, error) {
	out := &storage.Notifications{Kind: "storage#notifications"}
	err := s.store.View(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		for _, cfg := range notificationsOf(b) {
			out.Items = append(out.Items, GenerateNotification(b.Name, cfg))
		}
		return nil
	})
	return out, err
}

// GetNotification returns one webhook config by id.
func (s *Service) GetNotification(bucket, id string) (*storage.Notification, error) {
	var out *storage.Notification
	err := s.store.View(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		cfg, ok := b.Notifications[id]
		if !ok {
			return apierror.NotFound(errNotificationNotFound, id)
		}
		out = GenerateNotification(b.Name, cfg)
		return nil
	})
	return out, err
}

// DeleteNotification removes one webhook config.
func (s *Service) DeleteNotification(bucket, id string) error {
	return s.store.Update(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		if _, ok := b.Notifications[id]; !ok {
			return apierror.NotFound(errNotificationNotFound, id)
		}
		delete(b.Notifications, id)
		return nil
	})
}

// notificationsOf lists a bucket's configs in creation order.
func notificationsOf(b *store.Bucket) []*store.NotificationConfig {
	out := make([]*store.NotificationConfig, 0, len(b.Notifications))
	for _, cfg := range b.Notifications {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// changeNotification is the webhook payload.
type changeNotification struct {
	Kind       string            `json:"kind"`
	Bucket     string            `json:"bucket"`
	Object     string            `json:"object"`
	EventType  string            `json:"eventType"`
	Generation string            `json:"generation"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// notify posts an object change to every matching config on the bucket.
// Delivery is synchronous within the mutating request, so events for one
// object arrive in write order. Failures get one immediate retry and are
// then logged; they never fail the originating operation.
func (s *Service) notify(b *store.Bucket, eventType string, rec *store.Object) {
	if b == nil || rec == nil || len(b.Notifications) == 0 {
		return
	}
	payload, err := json.Marshal(changeNotification{
		Kind:       "storage#objectChangeNotification",
		Bucket:     b.Name,
		Object:     rec.Name,
		EventType:  eventType,
		Generation: strconv.FormatInt(rec.Generation, 10),
		Metadata:   rec.Metadata,
	})
	if err != nil {
		s.log.WithError(err).Warn("cannot encode change notification")
		return
	}
	for _, cfg := range notificationsOf(b) {
		if cfg.ObjectNamePrefix != "" && !strings.HasPrefix(rec.Name, cfg.ObjectNamePrefix) {
			continue
		}
		if len(cfg.EventTypes) > 0 && !hasEvent(cfg.EventTypes, eventType) {
			continue
		}
		s.deliver(cfg.WebhookURL, eventType, rec.Name, payload)
	}
}

func hasEvent(types []string, eventType string) bool {
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// deliver posts one payload. Two attempts total.
func (s *Service) deliver(webhookURL, eventType, object string, payload []byte) {
	log := s.log.WithFields(logrus.Fields{"webhook": webhookURL, "event": eventType, "object": object})
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.webhooks.Post(webhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.WithError(err).Warn("webhook delivery failed")
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close() // nolint:errcheck
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			webhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		log.WithField("status", resp.StatusCode).Warn("webhook delivery rejected")
	}
	webhookDeliveries.WithLabelValues("failed").Inc()
	log.Error("webhook delivery failed after retry")
}

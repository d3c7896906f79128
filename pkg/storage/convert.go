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
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"

	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// GenerateBucket produces the storage#bucket wire representation of a stored
// bucket. The advertised name and id are the user-given name.
func GenerateBucket(b *store.Bucket) *storage.Bucket {
	out := &storage.Bucket{
		Kind:           "storage#bucket",
		Id:             b.Name,
		Name:           b.Name,
		Location:       b.Location,
		StorageClass:   b.StorageClass,
		Metageneration: b.Metageneration,
		ProjectNumber:  gcp.NumericID(b.Project),
		Labels:         copyLabels(b.Labels),
		TimeCreated:    gcp.FormatTime(b.CreatedAt),
		Updated:        gcp.FormatTime(b.UpdatedAt),
		SelfLink:       gcp.BucketSelfLink(b.Name),
		Etag:           etag(b.Metageneration, 0),
		Cors:           corsToWire(b.CORS),
		Lifecycle:      lifecycleToWire(b.LifecycleRules),
	}
	if b.VersioningEnabled {
		out.Versioning = &storage.BucketVersioning{Enabled: true}
	}
	return out
}

// GenerateObject produces the storage#object wire representation of a version
// row. md5Hash carries the hex digest; crc32c carries the big-endian
// Castagnoli sum in padded base64url.
func GenerateObject(o *store.Object) *storage.Object {
	out := &storage.Object{
		Kind:           "storage#object",
		Id:             fmt.Sprintf("%s/%s/%d", o.Bucket, o.Name, o.Generation),
		Bucket:         o.Bucket,
		Name:           o.Name,
		Generation:     o.Generation,
		Metageneration: o.Metageneration,
		Size:           uint64(o.Size),
		ContentType:    o.ContentType,
		CacheControl:   o.CacheControl,
		StorageClass:   o.StorageClass,
		Md5Hash:        o.MD5,
		Crc32c:         crcToWire(o.CRC32C),
		Metadata:       copyLabels(o.Metadata),
		TimeCreated:    gcp.FormatTime(o.CreatedAt),
		Updated:        gcp.FormatTime(o.UpdatedAt),
		SelfLink:       gcp.ObjectSelfLink(o.Bucket, o.Name),
		MediaLink:      mediaLink(o),
		Etag:           etag(o.Generation, o.Metageneration),
	}
	if o.Deleted {
		out.TimeDeleted = gcp.FormatTime(o.UpdatedAt)
	}
	return out
}

func mediaLink(o *store.Object) string {
	return fmt.Sprintf("https://www.googleapis.com/download/storage/v1/b/%s/o/%s?generation=%d&alt=media",
		o.Bucket, url.PathEscape(o.Name), o.Generation)
}

// GenerateNotification produces the storage#notification wire shape. The
// topic field carries the webhook URL verbatim; the emulator posts to it
// instead of publishing to Pub/Sub.
func GenerateNotification(bucket string, n *store.NotificationConfig) *storage.Notification {
	return &storage.Notification{
		Kind:             "storage#notification",
		Id:               n.ID,
		Topic:            n.WebhookURL,
		ObjectNamePrefix: n.ObjectNamePrefix,
		EventTypes:       append([]string{}, n.EventTypes...),
		PayloadFormat:    n.PayloadFormat,
		SelfLink:         fmt.Sprintf("%s/b/%s/notificationConfigs/%s", gcp.StorageAPIBase, bucket, n.ID),
	}
}

// etag renders the provider's protobuf-flavored etag: tagged varints of the
// generation counters.
func etag(a, b int64) string {
	raw := binary.AppendUvarint([]byte{0x8}, uint64(a))
	if b != 0 {
		raw = binary.AppendUvarint(append(raw, 0x10), uint64(b))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// crcToWire converts the stored hex CRC32C to the JSON encoding: padded
// base64url of the big-endian four bytes.
func crcToWire(hexSum string) string {
	raw, err := hex.DecodeString(hexSum)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(raw)
}

func corsFromWire(in []*storage.BucketCors) []store.CORSRule {
	var out []store.CORSRule
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, store.CORSRule{
			Origins:         append([]string{}, c.Origin...),
			Methods:         append([]string{}, c.Method...),
			ResponseHeaders: append([]string{}, c.ResponseHeader...),
			MaxAgeSeconds:   c.MaxAgeSeconds,
		})
	}
	return out
}

func corsToWire(in []store.CORSRule) []*storage.BucketCors {
	var out []*storage.BucketCors
	for _, c := range in {
		out = append(out, &storage.BucketCors{
			Origin:         append([]string{}, c.Origins...),
			Method:         append([]string{}, c.Methods...),
			ResponseHeader: append([]string{}, c.ResponseHeaders...),
			MaxAgeSeconds:  c.MaxAgeSeconds,
		})
	}
	return out
}

// lifecycleFromWire parses bucket lifecycle rules. The Delete and Archive
// actions are supported; SetStorageClass to ARCHIVE is accepted as the same
// archive action, which is how SDK-written configs spell it.
func lifecycleFromWire(in *storage.BucketLifecycle) ([]store.LifecycleRule, error) {
	if in == nil {
		return nil, nil
	}
	var out []store.LifecycleRule
	for _, r := range in.Rule {
		if r == nil || r.Action == nil {
			return nil, apierror.Invalid("lifecycle rule must carry an action")
		}
		if r.Condition == nil || r.Condition.Age < 0 {
			return nil, apierror.Invalid("lifecycle rule must carry a non-negative age condition")
		}
		rule := store.LifecycleRule{AgeDays: r.Condition.Age}
		switch {
		case r.Action.Type == store.LifecycleActionDelete:
			rule.Action = store.LifecycleActionDelete
		case r.Action.Type == store.LifecycleActionArchive:
			rule.Action = store.LifecycleActionArchive
			rule.StorageClass = storageClassArchive
		case r.Action.Type == "SetStorageClass" && r.Action.StorageClass == storageClassArchive:
			rule.Action = store.LifecycleActionArchive
			rule.StorageClass = storageClassArchive
		default:
			return nil, apierror.Invalid("unsupported lifecycle action %q", r.Action.Type)
		}
		out = append(out, rule)
	}
	return out, nil
}

func lifecycleToWire(in []store.LifecycleRule) *storage.BucketLifecycle {
	if len(in) == 0 {
		return nil
	}
	out := &storage.BucketLifecycle{}
	for _, r := range in {
		out.Rule = append(out.Rule, &storage.BucketLifecycleRule{
			Action:    &storage.BucketLifecycleRuleAction{Type: r.Action, StorageClass: r.StorageClass},
			Condition: &storage.BucketLifecycleRuleCondition{Age: r.AgeDays},
		})
	}
	return out
}

package fanout

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	gos3 "bwdash/pkg/s3"
	"bwdash/services/dashboard/internal/snapshot"
)

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
	Close()
}

// EventSink publishes the regeneration event (not the snapshot body) on a
// NATS subject.
type EventSink struct {
	pub     Publisher
	subject string
}

// NewEventSink returns a sink publishing to subject.
func NewEventSink(pub Publisher, subject string) *EventSink {
	return &EventSink{pub: pub, subject: subject}
}

func (s *EventSink) Name() string { return "nats" }

func (s *EventSink) Notify(ctx context.Context, ev snapshot.Event, _ []byte) error {
	return s.pub.Publish(ctx, s.subject, ev)
}

func (s *EventSink) Close() error {
	s.pub.Close()
	return nil
}

// Uploader is satisfied by *s3.Client.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, opts gos3.PutOptions) error
}

// ArchiveSink stores a zstd-compressed copy of every snapshot in a bucket.
type ArchiveSink struct {
	up     Uploader
	bucket string
	prefix string
	enc    *zstd.Encoder
}

// NewArchiveSink returns a sink writing to bucket under prefix.
func NewArchiveSink(up Uploader, bucket, prefix string) (*ArchiveSink, error) {
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &ArchiveSink{
		up:     up,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		enc:    enc,
	}, nil
}

func (s *ArchiveSink) Name() string { return "s3" }

func (s *ArchiveSink) Notify(ctx context.Context, ev snapshot.Event, data []byte) error {
	body := s.enc.EncodeAll(data, make([]byte, 0, len(data)/4))
	return s.up.PutObject(ctx, s.bucket, ArchiveKey(s.prefix, ev), body, gos3.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "zstd",
		Metadata: map[string]string{
			"run-id":  ev.RunID.String(),
			"trigger": ev.Trigger,
			"sha256":  ev.SHA256,
		},
	})
}

func (s *ArchiveSink) Close() error {
	return s.enc.Close()
}

// ArchiveKey lays snapshots out as <prefix>/YYYY/MM/DD/<timestamp>-<run id>.json.zst
// using the UTC generation time.
func ArchiveKey(prefix string, ev snapshot.Event) string {
	ts := ev.GeneratedAt.UTC()
	name := ts.Format("20060102T150405Z") + "-" + ev.RunID.String() + ".json.zst"
	return path.Join(prefix, ts.Format("2006/01/02"), name)
}

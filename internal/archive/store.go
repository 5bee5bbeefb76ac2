package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// TranscriptLine is one utterance of an archived call.
type TranscriptLine struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// CallRecord is the archived form of a finished call.
type CallRecord struct {
	CallSID    string           `json:"call_sid"`
	Outcome    string           `json:"outcome,omitempty"`
	Transcript []TranscriptLine `json:"transcript"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// ManifestEntry is one JSONL line in the monthly archive manifest.
type ManifestEntry struct {
	CallSID    string `json:"call_sid"`
	S3Key      string `json:"s3_key"`
	Outcome    string `json:"outcome,omitempty"`
	LineCount  int    `json:"line_count"`
	ArchivedAt string `json:"archived_at"`
}

// Store archives call transcripts to S3 for audit and quality review.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ArchiveCall writes the call's transcript as JSON to S3 and appends to the
// monthly manifest.
func (s *Store) ArchiveCall(ctx context.Context, callSID, outcome string, lines []TranscriptLine) error {
	if !s.Enabled() {
		return nil
	}

	now := s.now().UTC()
	record := CallRecord{
		CallSID:    callSID,
		Outcome:    outcome,
		Transcript: lines,
		ArchivedAt: now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	s3Key := fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), callSID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived call transcript to S3",
		"call_sid", callSID,
		"s3_key", s3Key,
		"line_count", len(lines),
		"outcome", outcome,
	)

	entry := ManifestEntry{
		CallSID:    callSID,
		S3Key:      s3Key,
		Outcome:    outcome,
		LineCount:  len(lines),
		ArchivedAt: now.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// Log but don't fail; the transcript is already archived.
		s.logger.Warn("failed to append manifest", "error", err, "call_sid", callSID)
	}

	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now().UTC()
	manifestKey := fmt.Sprintf("transcripts/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	if err != nil {
		if !isNotFoundErr(err) {
			s.logger.Debug("manifest read failed, starting fresh", "key", manifestKey, "error", err)
		}
	} else {
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}

	return nil
}

// isNotFoundErr checks if the error is an S3 NoSuchKey error. String check
// since errors.As with S3 types can be tricky.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

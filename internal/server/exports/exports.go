// Package exports uploads conversation transcripts to S3-compatible object
// storage and hands out presigned download links.
package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// URLExpiry is how long a presigned transcript link stays valid.
const URLExpiry = 15 * time.Minute

// ErrDisabled is returned by Export when no bucket is configured.
var ErrDisabled = errors.New("transcript export is not configured")

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Config locates the bucket. An empty Bucket disables export.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ConversationReader is the owner-checked read side used to build a
// transcript. *services.ConversationService implements it.
type ConversationReader interface {
	GetConversation(ctx context.Context, caller auth.Identity, id uuid.UUID, page services.Page) (*services.ConversationDetail, error)
}

// Transcript is the JSON document stored in the bucket.
type Transcript struct {
	ConversationID uuid.UUID      `json:"conversation_id"`
	Title          string         `json:"title"`
	Account        string         `json:"account"`
	CreatedAt      time.Time      `json:"created_at"`
	ExportedAt     time.Time      `json:"exported_at"`
	Turns          []*models.Turn `json:"turns"`
}

// Result is what the caller gets back: the object key and a temporary link.
type Result struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	cfg           Config
	conversations ConversationReader
	client        *s3.Client
	presign       *s3.PresignClient
	logger        logging.Logger
	now           func() time.Time
}

// NewService builds the S3 clients. With an empty bucket no client is
// built and Export reports ErrDisabled.
func NewService(ctx context.Context, cfg Config, conversations ConversationReader, logger logging.Logger) (*Service, error) {
	s := &Service{cfg: cfg, conversations: conversations, logger: logger, now: time.Now}
	if cfg.Bucket == "" {
		return s, nil
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	s.client = newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO needs path-style addressing.
		o.UsePathStyle = true
	})
	s.presign = newS3PresignClient(s.client)
	return s, nil
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Enabled() bool { return s.client != nil }

// StorageKey is the object key for a new transcript of account at t.
func StorageKey(accountID uuid.UUID, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("transcripts/%s/%04d/%02d/%02d/%s.json", accountID, t.Year(), t.Month(), t.Day(), uuid.New())
}

// Export uploads the full transcript of an owned conversation and returns a
// presigned GET link for it.
func (s *Service) Export(ctx context.Context, caller auth.Identity, conversationID uuid.UUID) (*Result, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	transcript, err := s.transcript(ctx, caller, conversationID)
	if err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}

	bucket := s.cfg.Bucket
	key := StorageKey(caller.AccountID, transcript.ExportedAt)

	_, err = putObject(s.client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload transcript: %w", err)
	}

	req, err := presignGetObject(s.presign, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(URLExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign transcript: %w", err)
	}

	s.logger.Info(ctx, "transcript exported",
		"account_id", caller.AccountID, "conversation_id", conversationID, "key", key, "turns", len(transcript.Turns))

	return &Result{Key: key, URL: req.URL, ExpiresAt: transcript.ExportedAt.Add(URLExpiry)}, nil
}

// transcript reads every turn page by page.
func (s *Service) transcript(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Transcript, error) {
	page := services.Page{Page: 1, Limit: services.MaxPageLimit}

	detail, err := s.conversations.GetConversation(ctx, caller, id, page)
	if err != nil {
		return nil, err
	}

	t := &Transcript{
		ConversationID: detail.Conversation.ID,
		Title:          detail.Conversation.Title,
		Account:        caller.Handle,
		CreatedAt:      detail.Conversation.CreatedAt,
		ExportedAt:     s.now(),
		Turns:          detail.Turns,
	}
	for len(t.Turns) < detail.TotalTurns && len(detail.Turns) > 0 {
		page.Page++
		detail, err = s.conversations.GetConversation(ctx, caller, id, page)
		if err != nil {
			return nil, err
		}
		t.Turns = append(t.Turns, detail.Turns...)
	}
	return t, nil
}

package exports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type fakeReader struct {
	owner uuid.UUID
	conv  *models.Conversation
	turns []*models.Turn
	pages []services.Page
}

func (f *fakeReader) GetConversation(_ context.Context, caller auth.Identity, id uuid.UUID, page services.Page) (*services.ConversationDetail, error) {
	f.pages = append(f.pages, page)
	if id != f.conv.ID {
		return nil, common.ErrorNotFound
	}
	if caller.AccountID != f.owner {
		return nil, common.ErrForbidden
	}

	start := (page.Page - 1) * page.Limit
	end := start + page.Limit
	if start > len(f.turns) {
		start = len(f.turns)
	}
	if end > len(f.turns) {
		end = len(f.turns)
	}
	return &services.ConversationDetail{
		Conversation: f.conv,
		Turns:        f.turns[start:end],
		TotalTurns:   len(f.turns),
		Page:         page.Page,
		Limit:        page.Limit,
	}, nil
}

func newFakeReader(turns int) (*fakeReader, auth.Identity) {
	owner := auth.Identity{AccountID: uuid.New(), Handle: "demo@example.com", Role: common.RoleUser}
	f := &fakeReader{
		owner: owner.AccountID,
		conv:  &models.Conversation{ID: uuid.New(), AccountID: owner.AccountID, Title: "Hello!"},
	}
	for i := 0; i < turns; i++ {
		f.turns = append(f.turns, &models.Turn{ID: uuid.New(), ConversationID: f.conv.ID, Seq: int64(i + 1), Content: "x"})
	}
	return f, owner
}

type capturedPut struct {
	bucket, key, contentType string
	body                     []byte
}

// stubS3 replaces the AWS seams for the duration of the test.
func stubS3(t *testing.T, putErr, presignErr error) *[]capturedPut {
	t.Helper()

	origLoad, origNew, origPre := loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient
	origPut, origGet := putObject, presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient = origLoad, origNew, origPre
		putObject, presignGetObject = origPut, origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://127.0.0.1:9000" {
			t.Fatalf("BaseEndpoint not applied")
		}
		if !opts.UsePathStyle {
			t.Fatalf("path style not enabled")
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }

	var puts []capturedPut
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if putErr != nil {
			return nil, putErr
		}
		body, err := io.ReadAll(in.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		puts = append(puts, capturedPut{bucket: *in.Bucket, key: *in.Key, contentType: aws.ToString(in.ContentType), body: body})
		return &s3.PutObjectOutput{}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if presignErr != nil {
			return nil, presignErr
		}
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		if po.Expires != URLExpiry {
			t.Fatalf("presign expiry = %v", po.Expires)
		}
		return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key}, nil
	}
	return &puts
}

var testConfig = Config{
	Bucket:    "chatkeeper",
	Region:    "us-east-1",
	Endpoint:  "http://127.0.0.1:9000",
	AccessKey: "minioadmin",
	SecretKey: "minioadmin",
}

func TestStorageKey(t *testing.T) {
	t.Parallel()

	acct := uuid.New()
	key := StorageKey(acct, time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC))
	re := regexp.MustCompile(`^transcripts/` + acct.String() + `/2026/03/07/[0-9a-f-]{36}\.json$`)
	assert.Regexp(t, re, key)
	assert.NotEqual(t, key, StorageKey(acct, time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)))
}

func TestExport_Disabled(t *testing.T) {
	reader, owner := newFakeReader(1)
	svc, err := NewService(context.Background(), Config{}, reader, logging.NopLogger{})
	require.NoError(t, err)

	assert.False(t, svc.Enabled())
	_, err = svc.Export(context.Background(), owner, reader.conv.ID)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, reader.pages, "nothing is read when disabled")
}

func TestExport_UploadsFullTranscript(t *testing.T) {
	puts := stubS3(t, nil, nil)
	reader, owner := newFakeReader(services.MaxPageLimit + 5)
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	svc, err := NewService(context.Background(), testConfig, reader, logging.NopLogger{})
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	res, err := svc.Export(context.Background(), owner, reader.conv.ID)
	require.NoError(t, err)

	require.Len(t, *puts, 1)
	put := (*puts)[0]
	assert.Equal(t, "chatkeeper", put.bucket)
	assert.Equal(t, res.Key, put.key)
	assert.Equal(t, "application/json", put.contentType)
	assert.Equal(t, "https://s3.local/chatkeeper/"+res.Key, res.URL)
	assert.Equal(t, now.Add(URLExpiry), res.ExpiresAt)

	var doc Transcript
	require.NoError(t, json.Unmarshal(put.body, &doc))
	assert.Equal(t, reader.conv.ID, doc.ConversationID)
	assert.Equal(t, "Hello!", doc.Title)
	assert.Equal(t, "demo@example.com", doc.Account)
	require.Len(t, doc.Turns, services.MaxPageLimit+5)
	assert.Equal(t, int64(services.MaxPageLimit+5), doc.Turns[len(doc.Turns)-1].Seq)
	assert.Len(t, reader.pages, 2)
}

func TestExport_Ownership(t *testing.T) {
	puts := stubS3(t, nil, nil)
	reader, _ := newFakeReader(2)

	svc, err := NewService(context.Background(), testConfig, reader, logging.NopLogger{})
	require.NoError(t, err)

	stranger := auth.Identity{AccountID: uuid.New(), Handle: "eve@example.com"}
	_, err = svc.Export(context.Background(), stranger, reader.conv.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = svc.Export(context.Background(), stranger, uuid.New())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, *puts)
}

func TestExport_StorageErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("put", func(t *testing.T) {
		stubS3(t, boom, nil)
		reader, owner := newFakeReader(1)
		svc, err := NewService(context.Background(), testConfig, reader, logging.NopLogger{})
		require.NoError(t, err)

		_, err = svc.Export(context.Background(), owner, reader.conv.ID)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("presign", func(t *testing.T) {
		stubS3(t, nil, boom)
		reader, owner := newFakeReader(1)
		svc, err := NewService(context.Background(), testConfig, reader, logging.NopLogger{})
		require.NoError(t, err)

		_, err = svc.Export(context.Background(), owner, reader.conv.ID)
		assert.ErrorIs(t, err, boom)
	})
}

func TestNewService_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	boom := errors.New("no config")
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, boom
	}

	_, err := NewService(context.Background(), testConfig, &fakeReader{}, logging.NopLogger{})
	assert.ErrorIs(t, err, boom)
}

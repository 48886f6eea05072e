package archive_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gacha-ledger/internal/archive"
	"gacha-ledger/internal/archive/mocks"
	"gacha-ledger/internal/config"
	"gacha-ledger/internal/domain"
)

func testDoc() archive.Document {
	return archive.Document{
		JobID:      "V1StGXR8_Z5jdHi6B-myT",
		Game:       domain.GameGenshin,
		Format:     "uigf",
		AccountKey: "genshin:618033988",
		ReceivedAt: time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC+8", 8*3600)),
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "genshin/2024/03/09/uigf-V1StGXR8_Z5jdHi6B-myT.json", testDoc().ObjectName())
}

func TestStore(t *testing.T) {
	client := new(mocks.Client)
	a := archive.New(client, "docs", zerolog.Nop())
	data := []byte(`{"info":{}}`)

	client.On("PutObject", mock.Anything, "docs", testDoc().ObjectName(), mock.Anything, int64(len(data)),
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "application/json" && o.UserMetadata["job-id"] == testDoc().JobID
		})).Return(minio.UploadInfo{}, nil).Once()

	name, err := a.Store(context.Background(), testDoc(), data)
	require.NoError(t, err)
	assert.Equal(t, testDoc().ObjectName(), name)
	client.AssertExpectations(t)
}

func TestStoreError(t *testing.T) {
	client := new(mocks.Client)
	a := archive.New(client, "docs", zerolog.Nop())
	client.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("access denied"))

	_, err := a.Store(context.Background(), testDoc(), []byte("{}"))
	assert.ErrorContains(t, err, "access denied")
}

func TestEnsureBucket(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", mock.Anything, "docs").Return(true, nil)
		require.NoError(t, archive.New(client, "docs", zerolog.Nop()).EnsureBucket(context.Background()))
		client.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Missing", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", mock.Anything, "docs").Return(false, nil)
		client.On("MakeBucket", mock.Anything, "docs", mock.Anything).Return(nil).Once()
		require.NoError(t, archive.New(client, "docs", zerolog.Nop()).EnsureBucket(context.Background()))
		client.AssertExpectations(t)
	})

	t.Run("CheckFails", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", mock.Anything, "docs").Return(false, errors.New("dial tcp: refused"))
		assert.Error(t, archive.New(client, "docs", zerolog.Nop()).EnsureBucket(context.Background()))
	})
}

func TestLoad(t *testing.T) {
	client := new(mocks.Client)
	client.On("GetObject", mock.Anything, "docs", "a.json", mock.Anything).
		Return(io.NopCloser(strings.NewReader(`{"list":[]}`)), nil)

	data, err := archive.New(client, "docs", zerolog.Nop()).Load(context.Background(), "a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"list":[]}`, string(data))
}

func TestNewClient(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveEndpoint = "http://localhost:9000"
	cfg.ArchiveAccessKey = "key"
	cfg.ArchiveSecretKey = "secret"

	client, err := archive.NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

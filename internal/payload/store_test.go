package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// mockS3Client implements s3API in memory.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*params.Key]
	if !ok {
		msg := fmt.Sprintf("key %q not found", *params.Key)
		return nil, &types.NoSuchKey{Message: &msg}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestStores_RoundTrip(t *testing.T) {
	t.Parallel()

	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	mock := newMockS3Client()

	tests := []struct {
		name  string
		store Store
	}{
		{name: "local", store: local},
		{name: "s3", store: NewS3Store(mock, "bucket", "payloads/")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if err := tt.store.Put(ctx, "msg-1", []byte("large body")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := tt.store.Get(ctx, "msg-1")
			if err != nil || string(got) != "large body" {
				t.Errorf("Get() = %q, %v; want large body", got, err)
			}
			if err := tt.store.Delete(ctx, "msg-1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := tt.store.Get(ctx, "msg-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
			}
			if err := tt.store.Delete(ctx, "msg-1"); err != nil {
				t.Errorf("second Delete() error = %v, want nil", err)
			}
			if err := tt.store.Put(ctx, "../escape", nil); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Put(../escape) error = %v, want ErrInvalidID", err)
			}
		})
	}

	if _, ok := mock.objects["payloads/msg-1"]; ok {
		t.Error("s3 object not deleted")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "local", cfg: Config{Type: "local", Path: t.TempDir()}},
		{name: "default", cfg: Config{Path: t.TempDir()}},
		{name: "local without path", cfg: Config{Type: "local"}, wantErr: true},
		{name: "s3 without bucket", cfg: Config{Type: "s3"}, wantErr: true},
		{name: "unknown", cfg: Config{Type: "gcs"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(context.Background(), tt.cfg, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if _, ok := s.(*LocalStore); !ok {
					t.Errorf("New() = %T, want *LocalStore", s)
				}
			}
		})
	}
}

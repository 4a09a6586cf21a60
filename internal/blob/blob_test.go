package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JonMunkholm/inseguridad/internal/config"
)

// =============================================================================
// Driver conformance
// =============================================================================

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem() error = %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
	}
}

func TestStore_PutGetReplace(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			key := "curated/20240101_000000_000/Departamental.csv"
			info, err := s.Put(ctx, key, bytes.NewReader([]byte("a,b\n1,2\n")), PutOptions{
				ContentType: ContentTypeCSV,
				Metadata:    map[string]string{"run_id": "20240101_000000_000"},
			})
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if info.Size != 8 || info.ETag == "" {
				t.Errorf("Put() info = %+v", info)
			}

			if _, err := s.Put(ctx, key, bytes.NewReader([]byte("a,b\n")), PutOptions{ContentType: ContentTypeCSV}); err != nil {
				t.Fatalf("Put() replace error = %v", err)
			}
			got, rc, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != "a,b\n" {
				t.Errorf("Get() = %q, want replaced content", data)
			}
			if got.ContentType != ContentTypeCSV {
				t.Errorf("ContentType = %q", got.ContentType)
			}

			head, err := s.Head(ctx, key)
			if err != nil || head.Size != 4 {
				t.Errorf("Head() = %+v, %v", head, err)
			}
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"processed/r2/geografia.csv", "processed/r1/indicadores.csv", "processed/r1/geografia.csv", "curated/r1/Regional.csv"} {
				if _, err := s.Put(ctx, k, bytes.NewReader([]byte(k)), PutOptions{}); err != nil {
					t.Fatalf("Put(%s) error = %v", k, err)
				}
			}

			infos, err := s.List(ctx, "processed/r1/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := []string{"processed/r1/geografia.csv", "processed/r1/indicadores.csv"}
			if len(infos) != len(want) {
				t.Fatalf("List() = %v, want %v", infos, want)
			}
			for i := range want {
				if infos[i].Key != want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, infos[i].Key, want[i])
				}
			}

			ok, err := s.Delete(ctx, "processed/r1/geografia.csv")
			if err != nil || !ok {
				t.Errorf("Delete() = %v, %v; want true", ok, err)
			}
			ok, err = s.Delete(ctx, "processed/r1/geografia.csv")
			if err != nil || ok {
				t.Errorf("second Delete() = %v, %v; want false", ok, err)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.Get(ctx, "missing.csv"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
			if _, err := s.Head(ctx, "missing.csv"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Head() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"curated/run/Regional.csv", false},
		{"", true},
		{"  ", true},
		{"/etc/passwd", true},
		{"../outside", true},
		{"curated/../../x", true},
		{"x.meta", true},
	}
	for _, tt := range tests {
		_, err := sanitizeKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("sanitizeKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

// =============================================================================
// Open / S3
// =============================================================================

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg     config.BlobConfig
		want    Driver
		wantErr bool
	}{
		{config.BlobConfig{Driver: "fs", Root: t.TempDir()}, DriverFilesystem, false},
		{config.BlobConfig{Driver: "memory"}, DriverMemory, false},
		{config.BlobConfig{Driver: "s3", Bucket: "snapshots", Region: "us-east-1", AccessKey: "AKIA", SecretKey: "secret"}, DriverS3, false},
		{config.BlobConfig{Driver: "s3"}, "", true},
		{config.BlobConfig{Driver: "ftp"}, "", true},
	}
	for _, tt := range tests {
		s, err := Open(ctx, tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%s) error = %v, wantErr %v", tt.cfg.Driver, err, tt.wantErr)
			continue
		}
		if err == nil && s.Driver() != tt.want {
			t.Errorf("Open(%s).Driver() = %s, want %s", tt.cfg.Driver, s.Driver(), tt.want)
		}
	}
}

func TestS3Wrap(t *testing.T) {
	s := &S3{bucket: "b"}
	if err := s.wrap("k", &types.NoSuchKey{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrap(NoSuchKey) = %v, want ErrNotFound", err)
	}
	if err := s.wrap("k", fmt.Errorf("op: %w", &types.NotFound{})); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrap(NotFound) = %v, want ErrNotFound", err)
	}
	if err := s.wrap("k", errors.New("throttled")); errors.Is(err, ErrNotFound) {
		t.Error("wrap(other) should not match ErrNotFound")
	}
}

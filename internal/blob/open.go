package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/inseguridad/internal/config"
)

// Open selects a Store from configuration.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(strings.ToLower(cfg.Driver)) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PathStyle: cfg.UsePathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

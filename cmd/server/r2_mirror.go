package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"voxelstream.ai/internal/persistence/r2s3"
	"voxelstream.ai/internal/transport/tiles"
)

// buildTileMirror returns nil when VS_R2_MIRROR is off.
func buildTileMirror(logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("VS_R2_MIRROR", false) {
		return nil, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("VS_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("VS_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("VS_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("VS_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("VS_R2_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("VS_R2_MIRROR=true but VS_R2_ENDPOINT/VS_R2_BUCKET/VS_R2_ACCESS_KEY_ID/VS_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		Prefix:        prefix,
		CacheControl:  tiles.CacheControl,
		Workers:       envInt("VS_R2_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("VS_R2_QUEUE", 1024),
	}, logger), nil
}

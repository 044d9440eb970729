package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"
)

// BlobStore uploads proof images to Azure blob storage. It implements
// domain.Uploader.
type BlobStore struct {
	client    *azblob.Client
	container string
}

// NewBlobStore creates a BlobStore writing into the given container.
func NewBlobStore(connStr, container string) (*BlobStore, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &BlobStore{client: client, container: container}, nil
}

// Upload stores the blob under folder/<uuid>-<name> and returns its URL.
// A random prefix keeps same-named files from separate submissions from
// overwriting each other.
func (b *BlobStore) Upload(ctx context.Context, name string, data []byte, folder string) (string, error) {
	blobName := fmt.Sprintf("%s/%s-%s", strings.Trim(folder, "/"), uuid.NewString(), sanitizeName(name))
	if _, err := b.client.UploadBuffer(ctx, b.container, blobName, data, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.client.URL(), "/"), b.container, blobName), nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "image"
	}
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ReplaceAll(name, "\\", "_")
}

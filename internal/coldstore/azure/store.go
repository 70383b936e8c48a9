package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
)

// Store keeps blobs in one Azure Blob Storage container. Locators are the
// blob URLs.
type Store struct {
	client        *azblob.Client
	containerName string
	containerURL  string
}

func New(connectionString, containerName string) (*Store, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, errors.New("azure cold store requires AZURE_STORAGE_CONNECTION_STRING")
	}
	if strings.TrimSpace(containerName) == "" {
		return nil, errors.New("azure cold store requires a container name")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return &Store{
		client:        client,
		containerName: containerName,
		containerURL:  strings.TrimSuffix(client.ServiceClient().NewContainerClient(containerName).URL(), "/"),
	}, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (s *Store) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.containerName, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	opts := &azblob.UploadBufferOptions{}
	if !overwrite {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		}
	}

	_, err := s.client.UploadBuffer(ctx, s.containerName, name, data, opts)
	if err != nil {
		if !overwrite && bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return "", domain.ErrExists
		}
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return s.blobURL(name), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Store) NameFromLocator(locator string) (string, bool) {
	prefix := s.containerURL + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	name, err := url.PathUnescape(strings.TrimPrefix(locator, prefix))
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func (s *Store) blobURL(name string) string {
	return s.containerURL + "/" + (&url.URL{Path: name}).EscapedPath()
}

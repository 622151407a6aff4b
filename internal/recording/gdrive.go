package recording

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveBackup uploads finalized call recordings to a Google Drive folder.
type DriveBackup struct {
	service  *drive.Service
	folderID string
	mu       sync.Mutex
}

func NewDriveBackup(ctx context.Context, credPath, folderID string) (*DriveBackup, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &DriveBackup{service: svc, folderID: folderID}, nil
}

func (b *DriveBackup) Upload(localPath, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	meta := &drive.File{Name: name}
	if b.folderID != "" {
		meta.Parents = []string{b.folderID}
	}

	if _, err := b.service.Files.Create(meta).Media(f).Do(); err != nil {
		return fmt.Errorf("drive upload %s: %w", name, err)
	}
	return nil
}

package cloud

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	pdfMimeType    = "application/pdf"

	// DefaultFolderName is used when no folder id is configured.
	DefaultFolderName = "SongBird-Waivers"
)

// File describes an uploaded document.
type File struct {
	ID           string
	WebViewLink  string
	DownloadLink string
}

// Link is a published document location.
type Link struct {
	URL string
	// Durable links stay valid indefinitely and may be cached.
	Durable bool
	// Signed links carry a signature over their query string and must not
	// be modified.
	Signed bool
}

// Drive uploads documents into a single shared folder.
type Drive struct {
	svc        *drive.Service
	folderName string
	logger     *slog.Logger

	mu       sync.Mutex
	folderID string
}

// NewDrive creates a Drive client. folderID may be empty, in which case the
// folder is looked up by name on first upload and created if missing.
func NewDrive(ctx context.Context, ts oauth2.TokenSource, folderID, folderName string) (*Drive, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewDriveWithService(svc, folderID, folderName), nil
}

// NewDriveWithService wraps an existing service client.
func NewDriveWithService(svc *drive.Service, folderID, folderName string) *Drive {
	if folderName == "" {
		folderName = DefaultFolderName
	}
	return &Drive{
		svc:        svc,
		folderID:   folderID,
		folderName: folderName,
		logger:     slog.With("component", "drive"),
	}
}

// Upload stores the PDF in the folder and grants anyone-with-link read
// access.
func (d *Drive) Upload(ctx context.Context, filename string, data []byte) (*File, error) {
	folderID, err := d.folder(ctx)
	if err != nil {
		return nil, err
	}

	created, err := d.svc.Files.Create(&drive.File{
		Name:     filename,
		Parents:  []string{folderID},
		MimeType: pdfMimeType,
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(pdfMimeType)).
		Fields("id, webViewLink, webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}

	if _, err := d.svc.Permissions.Create(created.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("share %s: %w", created.Id, err)
	}

	d.logger.Info("Uploaded document", "file_id", created.Id, "filename", filename)
	return &File{
		ID:           created.Id,
		WebViewLink:  created.WebViewLink,
		DownloadLink: created.WebContentLink,
	}, nil
}

// Publish uploads the document and returns its view link.
func (d *Drive) Publish(ctx context.Context, filename string, data []byte) (*Link, error) {
	f, err := d.Upload(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return &Link{URL: f.WebViewLink, Durable: true}, nil
}

// folder resolves the target folder id. Two processes creating the folder
// at the same time may end up with duplicates; uploads still succeed.
func (d *Drive) folder(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.folderID != "" {
		return d.folderID, nil
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(d.folderName), folderMimeType)
	list, err := d.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", d.folderName, err)
	}
	if len(list.Files) > 0 {
		d.folderID = list.Files[0].Id
		return d.folderID, nil
	}

	created, err := d.svc.Files.Create(&drive.File{
		Name:     d.folderName,
		MimeType: folderMimeType,
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", d.folderName, err)
	}
	d.logger.Info("Created drive folder", "folder_id", created.Id, "name", d.folderName)
	d.folderID = created.Id
	return d.folderID, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

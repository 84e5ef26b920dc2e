package artwork

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/genricoloni/coverled/internal/domain"
	"github.com/genricoloni/coverled/internal/processor"
	"go.uber.org/zap"
)

const _maxFileSize = 10 * 1024 * 1024 // 10 MB

var errOutsideMount = errors.New("path escapes mount point")

// Fetcher resolves artwork references into panel-fitted images
type Fetcher struct {
	logger       *zap.Logger
	mountPoint   string
	serverPrefix string
	covers       domain.CoverArtSource
	urls         domain.Fetcher
	panel        domain.PanelResolution
}

// NewFetcher creates an artwork fetcher.
// mountPoint is where the media server's library is mounted locally; serverPrefix is the
// part of server paths that the mount replaces.
func NewFetcher(
	logger *zap.Logger,
	mountPoint string,
	serverPrefix string,
	covers domain.CoverArtSource,
	urls domain.Fetcher,
	panel domain.PanelResolution,
) *Fetcher {
	return &Fetcher{
		logger:       logger,
		mountPoint:   mountPoint,
		serverPrefix: serverPrefix,
		covers:       covers,
		urls:         urls,
		panel:        panel,
	}
}

// Resolve loads the referenced artwork, resizes it to target and fits it within the panel
func (f *Fetcher) Resolve(ctx context.Context, ref domain.ArtworkRef, target image.Point) (image.Image, error) {
	var (
		img image.Image
		err error
	)

	switch r := ref.(type) {
	case nil:
		return nil, &domain.ArtworkError{Reason: domain.ReasonNoArtwork}
	case domain.PathRef:
		img, err = f.fromPath(r)
	case domain.RemoteRef:
		img, err = f.fromRemote(ctx, r, target)
	case domain.URLRef:
		img, err = f.fromURL(ctx, r)
	default:
		return nil, &domain.ArtworkError{Reason: domain.ReasonUnsupportedRef, Ref: ref}
	}
	if err != nil {
		return nil, err
	}

	fitted, err := processor.Fit(img, target, f.panel)
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonDecodeFailed, Ref: ref, Err: err}
	}

	f.logger.Debug("Artwork resolved",
		zap.String("kind", string(ref.Kind())),
		zap.String("ref", ref.String()),
		zap.Int("width", fitted.Bounds().Dx()),
		zap.Int("height", fitted.Bounds().Dy()))

	return fitted, nil
}

func (f *Fetcher) fromPath(ref domain.PathRef) (image.Image, error) {
	if f.mountPoint == "" {
		return nil, &domain.ArtworkError{Reason: domain.ReasonMountNotConfigured, Ref: ref}
	}

	local, err := LocalPath(f.mountPoint, f.serverPrefix, ref.ServerPath)
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonNotFound, Ref: ref, Err: err}
	}

	file, err := os.Open(local)
	if err != nil {
		reason := domain.ReasonFetchFailed
		if errors.Is(err, fs.ErrNotExist) {
			reason = domain.ReasonNotFound
		}
		return nil, &domain.ArtworkError{Reason: reason, Ref: ref, Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, _maxFileSize))
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonFetchFailed, Ref: ref, Err: err}
	}

	img, err := processor.Decode(data)
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonDecodeFailed, Ref: ref, Err: err}
	}
	return img, nil
}

func (f *Fetcher) fromRemote(ctx context.Context, ref domain.RemoteRef, target image.Point) (image.Image, error) {
	if f.covers == nil || ref.ID == "" {
		return nil, &domain.ArtworkError{Reason: domain.ReasonFetchFailed, Ref: ref, Err: errors.New("no cover art source")}
	}

	// Ask the server for the edge we are going to resize to anyway
	size := max(target.X, target.Y)
	img, err := f.covers.CoverArt(ctx, ref.ID, size)
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonFetchFailed, Ref: ref, Err: err}
	}
	return img, nil
}

func (f *Fetcher) fromURL(ctx context.Context, ref domain.URLRef) (image.Image, error) {
	if f.urls == nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonUnsupportedRef, Ref: ref}
	}

	data, err := f.urls.Fetch(ctx, ref.URL)
	if err != nil {
		reason := domain.ReasonFetchFailed
		if errors.Is(err, fs.ErrNotExist) {
			reason = domain.ReasonNotFound
		}
		return nil, &domain.ArtworkError{Reason: reason, Ref: ref, Err: err}
	}

	img, err := processor.Decode(data)
	if err != nil {
		return nil, &domain.ArtworkError{Reason: domain.ReasonDecodeFailed, Ref: ref, Err: err}
	}
	return img, nil
}

// LocalPath rewrites a path reported by the media server onto the local mount.
// Windows separators are normalised, serverPrefix is stripped and the remainder
// must stay inside mountPoint.
func LocalPath(mountPoint, serverPrefix, serverPath string) (string, error) {
	p := strings.ReplaceAll(serverPath, `\`, "/")

	if prefix := strings.TrimRight(strings.ReplaceAll(serverPrefix, `\`, "/"), "/"); prefix != "" {
		if p == prefix {
			p = ""
		} else if strings.HasPrefix(p, prefix+"/") {
			p = p[len(prefix):]
		}
	}

	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("empty path %q", serverPath)
	}

	root := filepath.Clean(mountPoint)
	local := filepath.Join(root, filepath.FromSlash(p))

	rel, err := filepath.Rel(root, local)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideMount, serverPath)
	}
	return local, nil
}

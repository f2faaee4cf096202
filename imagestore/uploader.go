// Package imagestore mirrors product galleries into the object store. Keys
// are a pure function of (site, product id, index), so uploads are
// idempotent and a re-run never duplicates objects.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/fetch"
)

// S3API is the slice of the S3 client this package uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ImageFetcher retrieves one image over HTTP.
type ImageFetcher interface {
	FetchPage(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)
}

// Key is the object key for one gallery image.
func Key(site string, productID int64, index int) string {
	return fmt.Sprintf("%s/%d/%d-%d.jpg", site, productID, productID, index)
}

// ThumbKey is the object key for the product's first-image thumbnail.
func ThumbKey(site string, productID int64) string {
	return fmt.Sprintf("%s/%d/%d-thumb.jpg", site, productID, productID)
}

// ObjectURL is the public URL of a stored object.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ShouldSkipUpload reports whether a product's gallery is already fully
// mirrored: both URL lists present and of equal length.
func ShouldSkipUpload(p *catalog.Product) bool {
	return len(p.OriginalImageURLs) > 0 &&
		len(p.S3ImageURLs) > 0 &&
		len(p.OriginalImageURLs) == len(p.S3ImageURLs)
}

// Uploader acquires, normalizes, and uploads one product's gallery at a
// time. Workers bounds per-product parallelism; sensitive sites run with 1.
type Uploader struct {
	Client  S3API
	Bucket  string
	Region  string
	Fetcher ImageFetcher
	Store   *catalog.Store
	Bad     *BadList
	Workers int
	Logger  *slog.Logger
}

// Acquire mirrors urls for product p and updates the row. Individual image
// failures are logged and learned; only a total failure marks the product.
func (u *Uploader) Acquire(ctx context.Context, p *catalog.Product, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if ShouldSkipUpload(p) {
		return nil
	}
	if u.Bad != nil && u.Bad.Contains(urls[0]) {
		u.Logger.Warn("first image known bad, flagging product", "site", p.Site, "id", p.ID)
		return u.Store.MarkRequiresAttention(ctx, p.ID)
	}

	workers := u.Workers
	if workers <= 0 {
		workers = 4
	}

	// Each worker writes only its own slot, so the stored list keeps the
	// gallery's source order regardless of completion order.
	results := make([]string, len(urls))
	encoded := make([][]byte, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range urls {
		i, src := i, src
		g.Go(func() error {
			key := Key(p.Site, p.ID, i)
			if u.exists(gctx, key) {
				results[i] = ObjectURL(u.Bucket, u.Region, key)
				return nil
			}
			data, err := u.fetchEncode(gctx, src)
			if err != nil {
				u.Logger.Warn("image failed", "src", src, "err", err)
				if u.Bad != nil {
					if err := u.Bad.Add(src); err != nil {
						u.Logger.Warn("bad list not persisted", "err", err)
					}
				}
				return nil
			}
			if err := u.put(gctx, key, data); err != nil {
				u.Logger.Warn("image upload failed", "key", key, "err", err)
				return nil
			}
			results[i] = ObjectURL(u.Bucket, u.Region, key)
			encoded[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// The row's two lists stay index aligned: a source whose mirror failed
	// is dropped from both.
	var kept, stored []string
	for i, r := range results {
		if r == "" {
			continue
		}
		kept = append(kept, urls[i])
		stored = append(stored, r)
	}
	if len(stored) == 0 {
		u.Logger.Warn("all images failed, marking product", "site", p.Site, "id", p.ID)
		return u.Store.MarkImageFailed(ctx, p.ID)
	}

	if err := u.Store.SetImages(ctx, p.ID, kept, stored); err != nil {
		return err
	}
	p.OriginalImageURLs = kept
	p.S3ImageURLs = stored

	if err := u.ensureThumbnail(ctx, p, urls, results, encoded); err != nil {
		u.Logger.Warn("thumbnail failed", "site", p.Site, "id", p.ID, "err", err)
	}
	return nil
}

// ensureThumbnail writes the first-image thumbnail unless the row already
// has one. When the first stored image was reused from a previous run, the
// thumbnail from that run is reused too.
func (u *Uploader) ensureThumbnail(ctx context.Context, p *catalog.Product, urls, results []string, encoded [][]byte) error {
	if p.S3Thumbnail != "" {
		return nil
	}
	key := ThumbKey(p.Site, p.ID)
	url := ObjectURL(u.Bucket, u.Region, key)

	for i, r := range results {
		if r == "" {
			continue
		}
		data := encoded[i]
		if data == nil {
			if u.exists(ctx, key) {
				return u.setThumb(ctx, p, url)
			}
			// The image object was reused from a pass that never wrote its
			// thumbnail. Re-fetch the source to build one now.
			var err error
			data, err = u.fetchEncode(ctx, urls[i])
			if err != nil {
				return err
			}
		}
		img, err := decodeImage(data)
		if err != nil {
			return err
		}
		thumb, err := encodeJPEG(thumbnail(img), thumbQuality)
		if err != nil {
			return err
		}
		if err := u.put(ctx, key, thumb); err != nil {
			return err
		}
		return u.setThumb(ctx, p, url)
	}
	return nil
}

func (u *Uploader) setThumb(ctx context.Context, p *catalog.Product, url string) error {
	if err := u.Store.SetThumbnail(ctx, p.ID, url); err != nil {
		return err
	}
	p.S3Thumbnail = url
	return nil
}

func (u *Uploader) fetchEncode(ctx context.Context, src string) ([]byte, error) {
	res, err := u.Fetcher.FetchPage(ctx, src, fetch.Options{})
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(res.Body)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img, jpegQuality)
}

// exists HEAD-checks a key. Any HEAD failure is treated as absence; a
// spurious re-upload of an identical object is harmless.
func (u *Uploader) exists(ctx context.Context, key string) bool {
	_, err := u.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

func (u *Uploader) put(ctx context.Context, key string, data []byte) error {
	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("imagestore: put %s: %w", key, err)
	}
	return nil
}

package imagestore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/dbopen"
	"github.com/peposaru/milivault/fetch"
	_ "modernc.org/sqlite"
)

type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	puts         int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, errors.New("NotFound")
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	if in.ContentType != nil {
		f.contentTypes[*in.Key] = *in.ContentType
	}
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

type fakeImageFetcher struct {
	mu     sync.Mutex
	images map[string][]byte
	calls  []string
}

func (f *fakeImageFetcher) FetchPage(_ context.Context, url string, _ fetch.Options) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	data := f.images[url]
	f.mu.Unlock()
	if data == nil {
		return nil, errors.New("404")
	}
	return &fetch.Result{Body: data, StatusCode: 200, FinalURL: url}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestUploader(t *testing.T) (*Uploader, *fakeS3, *fakeImageFetcher, *catalog.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(catalog.Schema))
	store := catalog.NewStore(db)
	client := newFakeS3()
	fetcher := &fakeImageFetcher{images: map[string][]byte{}}
	u := &Uploader{
		Client:  client,
		Bucket:  "militaria-images",
		Region:  "us-east-1",
		Fetcher: fetcher,
		Store:   store,
		Workers: 2,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return u, client, fetcher, store
}

func seedProduct(t *testing.T, store *catalog.Store) *catalog.Product {
	t.Helper()
	p := &catalog.Product{Site: "bunker_militaria", URL: "https://shop.example/p/1", Title: "Helmet", Available: true}
	if _, err := store.InsertProduct(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

// WHAT: Object keys and URLs follow the {site}/{id}/{id}-{index}.jpg scheme.
// WHY: Keys are the idempotence contract; any drift orphans every object
// uploaded under the old scheme.
func TestKeyScheme(t *testing.T) {
	if got := Key("bunker_militaria", 42, 3); got != "bunker_militaria/42/42-3.jpg" {
		t.Errorf("Key = %q", got)
	}
	if got := ThumbKey("bunker_militaria", 42); got != "bunker_militaria/42/42-thumb.jpg" {
		t.Errorf("ThumbKey = %q", got)
	}
	want := "https://b.s3.eu-west-1.amazonaws.com/site/1/1-0.jpg"
	if got := ObjectURL("b", "eu-west-1", "site/1/1-0.jpg"); got != want {
		t.Errorf("ObjectURL = %q", got)
	}
}

// WHAT: Upload is skipped exactly when both URL lists exist and match in
// length.
// WHY: This predicate is what makes repeated passes cheap; a partial mirror
// must still be retried.
func TestShouldSkipUpload(t *testing.T) {
	tests := []struct {
		name string
		orig []string
		s3   []string
		want bool
	}{
		{"both empty", nil, nil, false},
		{"only originals", []string{"a"}, nil, false},
		{"equal length", []string{"a", "b"}, []string{"x", "y"}, true},
		{"partial mirror", []string{"a", "b"}, []string{"x"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &catalog.Product{OriginalImageURLs: tc.orig, S3ImageURLs: tc.s3}
			if got := ShouldSkipUpload(p); got != tc.want {
				t.Errorf("ShouldSkipUpload = %v, want %v", got, tc.want)
			}
		})
	}
}

// WHAT: A full acquisition uploads every image as JPEG in source order,
// updates both row lists, and writes a bounded thumbnail.
// WHY: Concurrent workers finish out of order; the stored list must still
// reflect the gallery order, and the thumbnail is what the UI shows.
func TestAcquireUploadsInOrder(t *testing.T) {
	u, client, fetcher, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	urls := []string{
		"https://shop.example/i/0.png",
		"https://shop.example/i/1.png",
		"https://shop.example/i/2.png",
	}
	for _, url := range urls {
		fetcher.images[url] = pngBytes(t, 600, 400)
	}

	if err := u.Acquire(ctx, p, urls); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got, err := store.GetProductByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.S3ImageURLs) != 3 {
		t.Fatalf("s3 urls = %v", got.S3ImageURLs)
	}
	for i, want := range []string{
		ObjectURL(u.Bucket, u.Region, Key(p.Site, p.ID, 0)),
		ObjectURL(u.Bucket, u.Region, Key(p.Site, p.ID, 1)),
		ObjectURL(u.Bucket, u.Region, Key(p.Site, p.ID, 2)),
	} {
		if got.S3ImageURLs[i] != want {
			t.Errorf("s3 url[%d] = %q, want %q", i, got.S3ImageURLs[i], want)
		}
	}
	if ct := client.contentTypes[Key(p.Site, p.ID, 0)]; ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}

	thumbData := client.objects[ThumbKey(p.Site, p.ID)]
	if thumbData == nil {
		t.Fatal("thumbnail not uploaded")
	}
	timg, err := decodeImage(thumbData)
	if err != nil {
		t.Fatalf("thumbnail decode: %v", err)
	}
	b := timg.Bounds()
	if b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("thumbnail bounds = %dx%d, want 300x200", b.Dx(), b.Dy())
	}
	if got.S3Thumbnail == "" {
		t.Error("thumbnail url not recorded")
	}
}

// WHAT: Keys already present in the store are reused without a fetch or a
// re-upload.
// WHY: HEAD-before-PUT is what makes a crashed pass resumable for free.
func TestAcquireReusesExisting(t *testing.T) {
	u, client, fetcher, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	urls := []string{"https://shop.example/i/0.png", "https://shop.example/i/1.png"}
	fetcher.images[urls[1]] = pngBytes(t, 100, 100)
	client.objects[Key(p.Site, p.ID, 0)] = []byte("already-there")
	client.objects[ThumbKey(p.Site, p.ID)] = []byte("thumb-there")

	if err := u.Acquire(ctx, p, urls); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	for _, call := range fetcher.calls {
		if call == urls[0] {
			t.Error("existing image fetched again")
		}
	}
	got, _ := store.GetProductByID(ctx, p.ID)
	if len(got.S3ImageURLs) != 2 {
		t.Errorf("s3 urls = %v", got.S3ImageURLs)
	}
	if got.S3Thumbnail == "" {
		t.Error("existing thumbnail not adopted")
	}
}

// WHAT: When part of the gallery fails, only the pairs that mirrored are
// persisted; the row's two URL lists stay equal in length.
// WHY: Consumers index the mirrored list by the original list; a row with
// mismatched lengths cannot be trusted, and only the repair sweep would
// ever notice it.
func TestAcquirePartialFailureKeepsListsAligned(t *testing.T) {
	u, _, fetcher, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	urls := []string{"https://shop.example/i/0.png", "https://shop.example/i/gone.png"}
	fetcher.images[urls[0]] = pngBytes(t, 100, 100)

	if err := u.Acquire(ctx, p, urls); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	got, err := store.GetProductByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.OriginalImageURLs) != len(got.S3ImageURLs) {
		t.Fatalf("lists misaligned: original=%d s3=%d",
			len(got.OriginalImageURLs), len(got.S3ImageURLs))
	}
	if len(got.OriginalImageURLs) != 1 || got.OriginalImageURLs[0] != urls[0] {
		t.Errorf("kept originals = %v, want just %q", got.OriginalImageURLs, urls[0])
	}
	if got.ImageFailed {
		t.Error("partial failure marked as total failure")
	}
}

// WHAT: A reused first image whose thumbnail object is missing gets one
// rebuilt from a re-fetch of the source.
// WHY: A crash between the image upload and the thumbnail upload must not
// leave the row without a thumbnail forever.
func TestAcquireRebuildsMissingThumbnail(t *testing.T) {
	u, client, fetcher, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	urls := []string{"https://shop.example/i/0.png"}
	fetcher.images[urls[0]] = pngBytes(t, 600, 400)
	client.objects[Key(p.Site, p.ID, 0)] = []byte("already-there")

	if err := u.Acquire(ctx, p, urls); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if client.objects[ThumbKey(p.Site, p.ID)] == nil {
		t.Fatal("thumbnail not rebuilt")
	}
	got, _ := store.GetProductByID(ctx, p.ID)
	if got.S3Thumbnail == "" {
		t.Error("thumbnail url not recorded")
	}
}

// WHAT: A product whose first image is on the bad list is flagged for
// attention and skipped entirely.
// WHY: The first image drives the thumbnail; when it is known bad, a human
// has to look before the product is presentable.
func TestAcquireBadFirstImage(t *testing.T) {
	u, client, _, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	bad, err := LoadBadList(filepath.Join(t.TempDir(), "bad.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := bad.Add("https://shop.example/i/0.png"); err != nil {
		t.Fatal(err)
	}
	u.Bad = bad

	if err := u.Acquire(ctx, p, []string{"https://shop.example/i/0.png"}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	got, _ := store.GetProductByID(ctx, p.ID)
	if !got.RequiresAttention {
		t.Error("product not flagged")
	}
	if client.puts != 0 {
		t.Errorf("puts = %d, want 0", client.puts)
	}
}

// WHAT: When every image fails, the product is marked image_download_failed
// and the failing URLs are learned.
// WHY: The flag stops later passes from re-fetching a hopeless gallery, and
// the learned URLs short-circuit other products sharing them.
func TestAcquireTotalFailure(t *testing.T) {
	u, _, _, store := newTestUploader(t)
	ctx := context.Background()
	p := seedProduct(t, store)

	bad, err := LoadBadList(filepath.Join(t.TempDir(), "bad.txt"))
	if err != nil {
		t.Fatal(err)
	}
	u.Bad = bad

	urls := []string{"https://shop.example/i/gone.png"}
	if err := u.Acquire(ctx, p, urls); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	got, _ := store.GetProductByID(ctx, p.ID)
	if !got.ImageFailed {
		t.Error("image_download_failed not set")
	}
	if !bad.Contains(urls[0]) {
		t.Error("failing url not learned")
	}
}

// WHAT: The bad list round-trips through its flat file.
// WHY: Learning only pays off if it survives a restart.
func TestBadListPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	b, err := LoadBadList(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Add("https://shop.example/i/x.png"); err != nil {
		t.Fatal(err)
	}
	if err := b.Add("https://shop.example/i/x.png"); err != nil {
		t.Fatal(err)
	}

	again, err := LoadBadList(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 1 {
		t.Errorf("len = %d, want 1", again.Len())
	}
	if !again.Contains("https://shop.example/i/x.png") {
		t.Error("url lost across reload")
	}
}

package gallery_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	"github.com/lucaszub/background-remover/internal/services/gallery"
	"github.com/lucaszub/background-remover/internal/services/storage"
)

type fakeImageStore struct {
	mu      sync.Mutex
	records map[string]pgrepo.ImageRecord
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{records: map[string]pgrepo.ImageRecord{}}
}

func (s *fakeImageStore) Insert(_ context.Context, rec pgrepo.ImageRecord) (pgrepo.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeImageStore) Get(_ context.Context, userID int64, id string) (pgrepo.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return pgrepo.ImageRecord{}, pgrepo.ErrImageNotFound
	}
	return rec, nil
}

func (s *fakeImageStore) List(_ context.Context, userID int64, filter pgrepo.ImageListFilter) ([]pgrepo.ImageRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []pgrepo.ImageRecord
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if filter.FavoritesOnly && !rec.IsFavorite {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(rec.Title), strings.ToLower(filter.Search)) {
			continue
		}
		if len(filter.Tags) > 0 && !containsAll(rec.Tags, filter.Tags) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (s *fakeImageStore) Update(_ context.Context, userID int64, id string, patch pgrepo.ImagePatch) (pgrepo.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return pgrepo.ImageRecord{}, pgrepo.ErrImageNotFound
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Tags != nil {
		rec.Tags = *patch.Tags
	}
	if patch.IsFavorite != nil {
		rec.IsFavorite = *patch.IsFavorite
	}
	s.records[id] = rec
	return rec, nil
}

func (s *fakeImageStore) Delete(_ context.Context, userID int64, id string) (pgrepo.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return pgrepo.ImageRecord{}, pgrepo.ErrImageNotFound
	}
	delete(s.records, id)
	return rec, nil
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type fakeGateway struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: map[string][]byte{}}
}

func (g *fakeGateway) put(key string, data []byte) (storage.UploadResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPuts {
		return storage.UploadResult{}, fmt.Errorf("bucket unavailable")
	}
	g.objects[key] = data
	return storage.UploadResult{Key: key, Size: int64(len(data))}, nil
}

func (g *fakeGateway) UploadOriginal(_ context.Context, userID int64, imageID, contentType string, data []byte) (storage.UploadResult, error) {
	return g.put(storage.OriginalKey(userID, imageID, contentType), data)
}

func (g *fakeGateway) UploadProcessed(_ context.Context, userID int64, imageID string, data []byte) (storage.UploadResult, error) {
	return g.put(storage.ProcessedKey(userID, imageID), data)
}

func (g *fakeGateway) UploadThumbnail(_ context.Context, userID int64, imageID string, processed []byte) (storage.UploadResult, storage.Thumbnail, error) {
	res, err := g.put(storage.ThumbnailKey(userID, imageID, "jpg"), processed)
	return res, storage.Thumbnail{Width: 300, Height: 200}, err
}

func (g *fakeGateway) Dimensions([]byte) (int, int) { return 640, 480 }

func (g *fakeGateway) SignedURL(_ context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.objects[key]; !ok {
		return "", fmt.Errorf("object %q not found", key)
	}
	return "https://cdn.test/" + key, nil
}

func (g *fakeGateway) DeleteAll(_ context.Context, keys ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range keys {
		delete(g.objects, key)
	}
}

func newServiceForTest() (*gallery.Service, *fakeImageStore, *fakeGateway) {
	images := newFakeImageStore()
	objects := newFakeGateway()
	return gallery.NewService(images, objects, nil), images, objects
}

func save(t *testing.T, svc *gallery.Service, userID int64, name string) pgrepo.ImageRecord {
	t.Helper()
	rec, err := svc.SaveProcessed(context.Background(), gallery.SaveInput{
		UserID:       userID,
		OriginalName: name,
		ContentType:  "image/jpeg",
		Original:     []byte("original-bytes"),
		Processed:    []byte("processed-bytes"),
		ProcessingMS: 1200,
	})
	if err != nil {
		t.Fatalf("save processed: %v", err)
	}
	return rec
}

func TestSaveProcessedCreatesRecordAndObjects(t *testing.T) {
	svc, images, objects := newServiceForTest()

	rec := save(t, svc, 42, "holiday photo.jpg")

	if rec.Title != "holiday photo" {
		t.Fatalf("title should drop the extension, got %q", rec.Title)
	}
	if rec.Width != 640 || rec.Height != 480 {
		t.Fatalf("dimensions should come from the processed output, got %dx%d", rec.Width, rec.Height)
	}
	if len(images.records) != 1 {
		t.Fatalf("expected one record, got %d", len(images.records))
	}
	if len(objects.objects) != 3 {
		t.Fatalf("expected original, processed and thumbnail objects, got %d", len(objects.objects))
	}
}

func TestSaveProcessedRollsBackOnUploadFailure(t *testing.T) {
	svc, images, objects := newServiceForTest()
	objects.failPuts = true

	if _, err := svc.SaveProcessed(context.Background(), gallery.SaveInput{
		UserID:      1,
		ContentType: "image/png",
		Original:    []byte("o"),
		Processed:   []byte("p"),
	}); err == nil {
		t.Fatalf("expected upload failure to surface")
	}

	if len(images.records) != 0 {
		t.Fatalf("no record should exist after a failed upload")
	}
	if len(objects.objects) != 0 {
		t.Fatalf("partial uploads should be rolled back")
	}
}

func TestGetHidesForeignRecords(t *testing.T) {
	svc, _, _ := newServiceForTest()
	rec := save(t, svc, 1, "mine.png")

	if _, err := svc.Get(context.Background(), 2, rec.ID); !errors.Is(err, gallery.ErrNotFound) {
		t.Fatalf("foreign record should look missing, got %v", err)
	}

	img, err := svc.Get(context.Background(), 1, rec.ID)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if img.OriginalURL == "" || img.ProcessedURL == "" || img.ThumbnailURL == "" {
		t.Fatalf("single read should sign all three urls: %+v", img)
	}
}

func TestListPaginationAndOriginalHidden(t *testing.T) {
	svc, _, _ := newServiceForTest()
	for i := 0; i < 15; i++ {
		save(t, svc, 1, fmt.Sprintf("img-%02d.png", i))
	}

	page, err := svc.List(context.Background(), 1, gallery.ListQuery{Page: 1, Limit: 12})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalCount != 15 || page.TotalPages != 2 || !page.HasNext || page.HasPrev {
		t.Fatalf("unexpected pagination: %+v", page)
	}
	if len(page.Images) != 12 {
		t.Fatalf("expected 12 images on page 1, got %d", len(page.Images))
	}
	for _, img := range page.Images {
		if img.OriginalURL != "" {
			t.Fatalf("listing must not expose the original url")
		}
		if img.ThumbnailURL == "" {
			t.Fatalf("listing should sign the thumbnail url")
		}
	}

	page2, err := svc.List(context.Background(), 1, gallery.ListQuery{Page: 2, Limit: 12})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Images) != 3 || page2.HasNext || !page2.HasPrev {
		t.Fatalf("unexpected second page: %+v", page2)
	}
}

func TestUpdateNormalizesTags(t *testing.T) {
	svc, _, _ := newServiceForTest()
	rec := save(t, svc, 1, "pic.png")

	tags := []string{" Nature ", "nature", "TRAVEL", ""}
	favorite := true
	img, err := svc.Update(context.Background(), 1, rec.ID, gallery.UpdateInput{Tags: &tags, IsFavorite: &favorite})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(img.Record.Tags) != 2 || img.Record.Tags[0] != "nature" || img.Record.Tags[1] != "travel" {
		t.Fatalf("tags were not normalized: %v", img.Record.Tags)
	}
	if !img.Record.IsFavorite {
		t.Fatalf("favorite flag was not applied")
	}

	if _, err := svc.Update(context.Background(), 1, rec.ID, gallery.UpdateInput{}); !errors.Is(err, gallery.ErrValidation) {
		t.Fatalf("empty patch should fail validation, got %v", err)
	}
}

func TestDeleteRemovesRecordAndObjects(t *testing.T) {
	svc, images, objects := newServiceForTest()
	rec := save(t, svc, 1, "gone.png")

	if err := svc.Delete(context.Background(), 1, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(images.records) != 0 {
		t.Fatalf("record should be gone")
	}
	if len(objects.objects) != 0 {
		t.Fatalf("stored objects should be gone, %d left", len(objects.objects))
	}

	if err := svc.Delete(context.Background(), 1, rec.ID); !errors.Is(err, gallery.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
	"worksheethub/pkg/notify"
	"worksheethub/pkg/storage"
	"worksheethub/pkg/store"
)

var (
	admin  = domain.Principal{UserID: "admin-1", Admin: true}
	reader = domain.Principal{UserID: "user-1"}
)

// failingDeleteStore wraps an object store and fails every Delete.
type failingDeleteStore struct {
	storage.ObjectStore
	deleteAttempts int
}

func (f *failingDeleteStore) Delete(context.Context, string) error {
	f.deleteAttempts++
	return errors.New("simulated object store outage")
}

type testEnv struct {
	service *catalog.Service
	store   *store.MemoryStore
	objects *storage.MemoryObjectStore
}

func newTestEnv(t *testing.T, objects storage.ObjectStore) testEnv {
	t.Helper()
	memStore := store.NewMemoryStore()
	memObjects := storage.NewMemoryObjectStore()
	if objects == nil {
		objects = memObjects
	}
	service, err := catalog.New(catalog.Config{
		Store:         memStore,
		Notifications: memStore,
		Objects:       objects,
		Notifier:      notify.New(memStore, memStore),
	})
	if err != nil {
		t.Fatalf("init service: %v", err)
	}
	return testEnv{service: service, store: memStore, objects: memObjects}
}

func worksheetFile(name string) catalog.FileUpload {
	return catalog.FileUpload{
		Filename: name,
		Reader:   bytes.NewReader([]byte("%PDF-1.4 test")),
		Size:     13,
	}
}

func createInput() catalog.CreateInput {
	return catalog.CreateInput{
		Title:       "Algebra Basics",
		Subject:     "Math",
		Standard:    "Grade-10",
		Description: "intro to linear equations",
		Tags:        []string{"algebra"},
		File:        worksheetFile("algebra.pdf"),
	}
}

func TestCreateRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.service.Create(reader, createInput()); !errors.Is(err, catalog.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]func(*catalog.CreateInput){
		"missing title":    func(in *catalog.CreateInput) { in.Title = "" },
		"missing subject":  func(in *catalog.CreateInput) { in.Subject = "  " },
		"missing standard": func(in *catalog.CreateInput) { in.Standard = "" },
		"missing file":     func(in *catalog.CreateInput) { in.File = catalog.FileUpload{} },
	}
	for name, mutate := range cases {
		in := createInput()
		mutate(&in)
		_, err := env.service.Create(admin, in)
		var validation *catalog.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

func TestCreateDerivesSearchIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	entry, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []string{"algebra", "algebra basics", "equations", "intro", "linear", "math"}
	if !reflect.DeepEqual(entry.SearchIndex, want) {
		t.Fatalf("searchIndex = %v, want %v", entry.SearchIndex, want)
	}
	if !env.objects.Has(entry.File.Key) {
		t.Fatalf("expected object stored at %q", entry.File.Key)
	}
	if entry.UploadedAt.IsZero() || !entry.UpdatedAt.Equal(entry.UploadedAt) {
		t.Fatalf("timestamps not initialized: uploaded=%v updated=%v", entry.UploadedAt, entry.UpdatedAt)
	}
}

func TestCreateFansOutToAllKnownUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		if err := env.store.SaveUser(domain.User{ID: userID, Email: userID + "@example.com", Role: domain.RoleUser}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	entry, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		notifications, err := env.store.ListNotificationsForUser(userID, 20)
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(notifications) != 1 {
			t.Fatalf("user %s: got %d notifications, want 1", userID, len(notifications))
		}
		n := notifications[0]
		if n.Type != domain.NotificationNewEntry {
			t.Fatalf("notification type = %q", n.Type)
		}
		if n.Payload.EntryID != entry.ID || n.Payload.Standard != "Grade-10" {
			t.Fatalf("unexpected payload: %+v", n.Payload)
		}
		if n.Read {
			t.Fatal("new notification must start unread")
		}
	}
}

func TestEditEmptyPartialKeepsIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	edited, err := env.service.Edit(admin, created.ID, catalog.EditInput{})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !reflect.DeepEqual(edited.SearchIndex, created.SearchIndex) {
		t.Fatalf("empty edit changed searchIndex: %v -> %v", created.SearchIndex, edited.SearchIndex)
	}
	if !edited.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updatedAt did not advance: %v -> %v", created.UpdatedAt, edited.UpdatedAt)
	}
	if !edited.UploadedAt.Equal(created.UploadedAt) {
		t.Fatal("uploadedAt must be immutable")
	}
}

func TestEditRecomputesIndexFromMergedView(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	description := "quadratic formulas explained"
	tags := []string{"quadratics"}
	edited, err := env.service.Edit(admin, created.ID, catalog.EditInput{
		Description: &description,
		Tags:        &tags,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	want := catalog.Tokenize(created.Title, created.Subject, created.Topic, created.Subtopic, description, tags)
	if !reflect.DeepEqual(edited.SearchIndex, want) {
		t.Fatalf("searchIndex = %v, want %v", edited.SearchIndex, want)
	}
	if catalog.HasToken(edited.SearchIndex, "linear") {
		t.Fatal("stale description token survived the edit")
	}
}

func TestEditWithNewFileSurvivesOldBlobDeleteFailure(t *testing.T) {
	memObjects := storage.NewMemoryObjectStore()
	failing := &failingDeleteStore{ObjectStore: memObjects}
	env := newTestEnv(t, failing)

	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	edited, err := env.service.Edit(admin, created.ID, catalog.EditInput{
		File: &catalog.FileUpload{
			Filename: "algebra-v2.pdf",
			Reader:   bytes.NewReader([]byte("new bytes")),
			Size:     9,
		},
	})
	if err != nil {
		t.Fatalf("edit with failing old-blob delete must still succeed: %v", err)
	}
	if failing.deleteAttempts == 0 {
		t.Fatal("expected an old-blob delete attempt")
	}
	if edited.File.Key == created.File.Key {
		t.Fatal("file key was not replaced")
	}
	if edited.File.Filename != "algebra-v2.pdf" {
		t.Fatalf("filename = %q", edited.File.Filename)
	}
}

func TestEditReuploadSameFilenameKeepsNewBlob(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	edited, err := env.service.Edit(admin, created.ID, catalog.EditInput{
		File: &catalog.FileUpload{
			Filename: "algebra.pdf",
			Reader:   bytes.NewReader([]byte("revised bytes")),
			Size:     13,
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.File.Key == created.File.Key {
		t.Fatal("storage key reused across uploads")
	}
	if !env.objects.Has(edited.File.Key) {
		t.Fatal("replacement blob missing after same-filename re-upload")
	}
	if env.objects.Has(created.File.Key) {
		t.Fatal("old blob not removed")
	}
	if edited.File.Filename != "algebra.pdf" {
		t.Fatalf("filename = %q", edited.File.Filename)
	}
}

func TestEditMissingEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.service.Edit(admin, "nope", catalog.EditInput{}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingEntryHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.service.Delete(admin, "does-not-exist"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok, _ := env.store.GetEntry(created.ID); !ok {
		t.Fatal("unrelated entry vanished")
	}
	if !env.objects.Has(created.File.Key) {
		t.Fatal("unrelated object vanished")
	}
}

func TestDeleteSwallowsBlobFailure(t *testing.T) {
	memObjects := storage.NewMemoryObjectStore()
	failing := &failingDeleteStore{ObjectStore: memObjects}
	env := newTestEnv(t, failing)

	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.service.Delete(admin, created.ID); err != nil {
		t.Fatalf("delete must succeed despite blob failure: %v", err)
	}
	if _, ok, _ := env.store.GetEntry(created.ID); ok {
		t.Fatal("entry still present after delete")
	}
}

func TestSearchRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.service.Search(domain.Principal{}, catalog.SearchInput{Standard: "Grade-10"})
	if !errors.Is(err, catalog.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSearchRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.service.Search(reader, catalog.SearchInput{Standard: "Grade-10", Cursor: "$$$"})
	var validation *catalog.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// seedEntry writes an entry with a controlled upload time directly into
// the store so pagination ordering is deterministic.
func seedEntry(t *testing.T, s *store.MemoryStore, id, standard string, uploadedAt time.Time) {
	t.Helper()
	entry := domain.CatalogEntry{
		ID:          id,
		Title:       "Sheet " + id,
		Subject:     "Math",
		Standard:    standard,
		SearchIndex: catalog.Tokenize("Sheet "+id, "Math", "", "", "", nil),
		File:        domain.FileRef{Key: "worksheets/" + id + "/sheet.pdf", Filename: "sheet.pdf", SizeBytes: 1},
		UploadedAt:  uploadedAt,
		UpdatedAt:   uploadedAt,
	}
	if err := s.CreateEntry(entry); err != nil {
		t.Fatalf("seed entry %s: %v", id, err)
	}
}

func TestSearchPaginatesFiveEntriesByTwo(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedEntry(t, env.store, fmt.Sprintf("entry-%d", i), "Grade-10", base.Add(time.Duration(i)*time.Minute))
	}
	seedEntry(t, env.store, "other", "Grade-11", base.Add(time.Hour))

	page1, err := env.service.Search(reader, catalog.SearchInput{Standard: "Grade-10", PageSize: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Entries) != 2 || !page1.HasMore || page1.NextCursor == nil {
		t.Fatalf("page 1: entries=%d hasMore=%v cursor=%v", len(page1.Entries), page1.HasMore, page1.NextCursor)
	}
	if page1.Entries[0].ID != "entry-4" || page1.Entries[1].ID != "entry-3" {
		t.Fatalf("page 1 order: %s, %s", page1.Entries[0].ID, page1.Entries[1].ID)
	}

	page2, err := env.service.Search(reader, catalog.SearchInput{Standard: "Grade-10", PageSize: 2, Cursor: *page1.NextCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.Entries) != 2 || page2.Entries[0].ID != "entry-2" || page2.Entries[1].ID != "entry-1" {
		t.Fatalf("page 2 unexpected: %+v", ids(page2.Entries))
	}

	page3, err := env.service.Search(reader, catalog.SearchInput{Standard: "Grade-10", PageSize: 2, Cursor: *page2.NextCursor})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Entries) != 1 || page3.Entries[0].ID != "entry-0" {
		t.Fatalf("page 3 unexpected: %+v", ids(page3.Entries))
	}
	if page3.NextCursor != nil || page3.HasMore {
		t.Fatalf("page 3 must be terminal: cursor=%v hasMore=%v", page3.NextCursor, page3.HasMore)
	}
}

func TestSearchPaginationCompleteness(t *testing.T) {
	const p = 3
	for _, total := range []int{0, 1, p - 1, p, p + 1, 3 * p} {
		env := newTestEnv(t, nil)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < total; i++ {
			// Shared timestamps exercise the id tie-break.
			seedEntry(t, env.store, fmt.Sprintf("entry-%02d", i), "Grade-7", base.Add(time.Duration(i/2)*time.Minute))
		}

		seen := make(map[string]bool)
		cursor := ""
		pages := 0
		for {
			in := catalog.SearchInput{Standard: "Grade-7", PageSize: p, Cursor: cursor}
			result, err := env.service.Search(reader, in)
			if err != nil {
				t.Fatalf("total=%d: search: %v", total, err)
			}
			for _, entry := range result.Entries {
				if seen[entry.ID] {
					t.Fatalf("total=%d: duplicate entry %s", total, entry.ID)
				}
				seen[entry.ID] = true
			}
			if result.NextCursor == nil {
				break
			}
			cursor = *result.NextCursor
			pages++
			if pages > total+2 {
				t.Fatalf("total=%d: pagination did not terminate", total)
			}
		}
		if len(seen) != total {
			t.Fatalf("total=%d: traversal yielded %d entries", total, len(seen))
		}
	}
}

func TestSearchTokenFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now().UTC()
	seedEntry(t, env.store, "match", "Grade-10", now)
	entry, _, _ := env.store.GetEntry("match")
	entry.Description = "fractions and decimals practice"
	entry.SearchIndex = catalog.Tokenize(entry.Title, entry.Subject, "", "", entry.Description, nil)
	if err := env.store.ReplaceEntry(entry); err != nil {
		t.Fatalf("replace: %v", err)
	}
	seedEntry(t, env.store, "nomatch", "Grade-10", now.Add(time.Second))

	result, err := env.service.Search(reader, catalog.SearchInput{Standard: "Grade-10", Query: "Fractions"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].ID != "match" {
		t.Fatalf("token filter returned %v", ids(result.Entries))
	}
}

func TestSearchIndexConsistencyRandomized(t *testing.T) {
	env := newTestEnv(t, nil)
	rng := rand.New(rand.NewSource(7))
	words := []string{"algebra", "geometry", "Fractions", "x", "of", "Photosynthesis", "REVISION", "term-1"}
	pick := func() string {
		if rng.Intn(4) == 0 {
			return ""
		}
		n := rng.Intn(3) + 1
		parts := make([]string, n)
		for i := range parts {
			parts[i] = words[rng.Intn(len(words))]
		}
		return strings.Join(parts, " ")
	}

	for i := 0; i < 120; i++ {
		in := catalog.CreateInput{
			Title:       fmt.Sprintf("Sheet %d", i),
			Subject:     "Subject " + words[rng.Intn(len(words))],
			Standard:    fmt.Sprintf("Grade-%d", rng.Intn(12)+1),
			Topic:       pick(),
			Subtopic:    pick(),
			Description: pick(),
			File:        worksheetFile("sheet.pdf"),
		}
		if rng.Intn(2) == 0 {
			in.Tags = []string{words[rng.Intn(len(words))]}
		}
		entry, err := env.service.Create(admin, in)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		want := catalog.Tokenize(entry.Title, entry.Subject, entry.Topic, entry.Subtopic, entry.Description, entry.Tags)
		if !reflect.DeepEqual(entry.SearchIndex, want) {
			t.Fatalf("create %d: searchIndex = %v, want %v", i, entry.SearchIndex, want)
		}

		if rng.Intn(2) == 0 {
			topic := pick()
			edited, err := env.service.Edit(admin, entry.ID, catalog.EditInput{Topic: &topic})
			if err != nil {
				t.Fatalf("edit %d: %v", i, err)
			}
			want = catalog.Tokenize(edited.Title, edited.Subject, edited.Topic, edited.Subtopic, edited.Description, edited.Tags)
			if !reflect.DeepEqual(edited.SearchIndex, want) {
				t.Fatalf("edit %d: searchIndex = %v, want %v", i, edited.SearchIndex, want)
			}
		}
	}
}

func TestSubmitContactValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.service.SubmitContact(catalog.ContactInput{Name: "Ada", Email: "ada@example.com"})
	var validation *catalog.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	contact, err := env.service.SubmitContact(catalog.ContactInput{
		Name:        "Ada",
		Email:       "ada@example.com",
		PhoneNumber: "555-0100",
		Description: "Please add Grade-12 worksheets",
	})
	if err != nil {
		t.Fatalf("submit contact: %v", err)
	}
	if contact.Status != domain.ContactUnread {
		t.Fatalf("status = %q", contact.Status)
	}
	if env.store.ContactCount() != 1 {
		t.Fatalf("contact count = %d", env.store.ContactCount())
	}
}

func TestDownloadURL(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.service.Create(admin, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	url, filename, err := env.service.DownloadURL(reader, created.ID)
	if err != nil {
		t.Fatalf("download url: %v", err)
	}
	if url == "" || filename != "algebra.pdf" {
		t.Fatalf("url=%q filename=%q", url, filename)
	}
	if _, _, err := env.service.DownloadURL(reader, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ids(entries []domain.CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

package pipeline

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/zotero-metadata/internal/extract"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/ocr"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

// --- Zotero Mock ---

type mockZotero struct {
	mock.Mock
}

func (m *mockZotero) Item(ctx context.Context, key string) (*zotero.Item, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zotero.Item), args.Error(1)
}

func (m *mockZotero) Children(ctx context.Context, key string) ([]zotero.Item, error) {
	args := m.Called(ctx, key)
	items, _ := args.Get(0).([]zotero.Item)
	return items, args.Error(1)
}

func (m *mockZotero) TopItems(ctx context.Context) ([]zotero.Item, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]zotero.Item)
	return items, args.Error(1)
}

func (m *mockZotero) CollectionTopItems(ctx context.Context, key string) ([]zotero.Item, error) {
	args := m.Called(ctx, key)
	items, _ := args.Get(0).([]zotero.Item)
	return items, args.Error(1)
}

func (m *mockZotero) SubCollections(ctx context.Context, key string) ([]zotero.Collection, error) {
	args := m.Called(ctx, key)
	cols, _ := args.Get(0).([]zotero.Collection)
	return cols, args.Error(1)
}

func (m *mockZotero) Attachments(ctx context.Context) ([]zotero.Item, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]zotero.Item)
	return items, args.Error(1)
}

func (m *mockZotero) UpdateItem(ctx context.Context, key string, version int, patch map[string]any) error {
	args := m.Called(ctx, key, version, patch)
	return args.Error(0)
}

func (m *mockZotero) CreateItem(ctx context.Context, data map[string]any) (*zotero.Item, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zotero.Item), args.Error(1)
}

func (m *mockZotero) UploadAttachment(ctx context.Context, parentKey, path string) (*zotero.Item, error) {
	args := m.Called(ctx, parentKey, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zotero.Item), args.Error(1)
}

func (m *mockZotero) DownloadFile(ctx context.Context, key, dst string) error {
	args := m.Called(ctx, key, dst)
	return args.Error(0)
}

// writeFile makes a DownloadFile expectation store content at the destination.
func writeFile(content string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		if err := os.WriteFile(args.String(2), []byte(content), 0o644); err != nil {
			panic(err)
		}
	}
}

// --- Text reader fake ---

type fakeReader struct {
	text  string
	err   error
	paths []string
}

func (f *fakeReader) Extract(_ context.Context, path string, _ bool) (ocr.Document, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return ocr.Document{}, f.err
	}
	return ocr.Document{Text: f.text, Pages: 1, Method: ocr.MethodTextLayer}, nil
}

// --- Extractor fake ---

type fakeExtractor struct {
	record   func(req extract.Request) *model.Record
	err      error
	usage    model.Usage
	requests []extract.Request
}

func (f *fakeExtractor) Name() string { return "anthropic" }

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (*extract.Result, error) {
	f.requests = append(f.requests, req)
	res := &extract.Result{Usage: f.usage}
	if f.err != nil {
		return res, f.err
	}
	res.Record = f.record(req)
	return res, nil
}

func noteRecord(extract.Request) *model.Record {
	return &model.Record{
		Title:    "Objet: Note relative à la libre circulation des personnes",
		Authors:  []model.Author{{Denomination: "Le Chef du Service de Coopération Économique"}},
		Place:    "bern",
		Date:     "12/03/1987",
		Language: "fra",
		Tags:     []string{"./Migration"},
	}
}

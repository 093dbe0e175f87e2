package pipeline

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/zotero-metadata/internal/extract"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/normalize"
	"github.com/sells-group/zotero-metadata/internal/store"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

func newTestPipeline(zc zotero.Client, reader TextReader, ex extract.MetadataExtractor, opts Options) *Pipeline {
	return New(zc, reader, ex, normalize.New(nil, normalize.DefaultMarkerTag), nil, opts)
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func pdfChild(key, name string) zotero.Item {
	return zotero.Item{Key: key, Data: zotero.ItemData{
		ItemType: zotero.ItemTypeAttachment, LinkMode: "imported_file",
		ContentType: "application/pdf", Filename: name, ParentItem: "ITEM1",
	}}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func TestRunItem_EndToEnd(t *testing.T) {
	zc := new(mockZotero)
	item := &zotero.Item{Key: "ITEM1", Version: 5, Data: zotero.ItemData{
		ItemType: "document", Title: "scan", Extra: "Fonds A",
		Tags: []zotero.Tag{{Tag: "à lire"}},
	}}
	zc.On("Item", mock.Anything, "ITEM1").Return(item, nil)
	zc.On("Children", mock.Anything, "ITEM1").Return([]zotero.Item{
		{Key: "NOTE1", Data: zotero.ItemData{ItemType: zotero.ItemTypeNote}},
		pdfChild("ATT1", "CamScanner 14-07-2023 09.41.pdf"),
	}, nil)
	zc.On("DownloadFile", mock.Anything, "ATT1", mock.Anything).Run(writeFile("%PDF-1.4 one")).Return(nil)

	var patch map[string]any
	zc.On("UpdateItem", mock.Anything, "ITEM1", 5, mock.Anything).
		Run(func(args mock.Arguments) { patch = args.Get(3).(map[string]any) }).
		Return(nil)

	reader := &fakeReader{text: "Objet: Note relative à la libre circulation des personnes\n\nLe Chef du Service de Coopération Économique"}
	ex := &fakeExtractor{record: noteRecord, usage: model.Usage{Calls: 1, InputTokens: 1200, OutputTokens: 150, CostUSD: 0.002}}

	summary, err := newTestPipeline(zc, reader, ex, Options{Model: "claude-haiku-4-5-20251001"}).RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)

	assert.Equal(t, model.RunModeItem, summary.Mode)
	assert.Equal(t, "anthropic", summary.Provider)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int64(1200), summary.Usage.InputTokens)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	require.Len(t, ex.requests, 1)
	assert.Equal(t, reader.text, ex.requests[0].Text)
	assert.Equal(t, "CamScanner 14-07-2023 09.41.pdf", ex.requests[0].Filename)

	require.NotNil(t, patch)
	assert.Equal(t, "Note Relative À La Libre Circulation Des Personnes", patch["title"])
	assert.Equal(t, []zotero.Creator{{CreatorType: "author", Name: "Le Chef du Service de Coopération Économique"}}, patch["creators"])
	assert.Equal(t, "report", patch["itemType"])
	assert.Equal(t, "Bern", patch["place"])
	assert.Equal(t, "12/03/1987", patch["date"])
	assert.Equal(t, "Fonds A\nScan date: 14/07/2023\nScan time: 09:41", patch["extra"])
	assert.Equal(t, []zotero.Tag{{Tag: "à lire"}, {Tag: "./Migration"}, {Tag: "./metadata"}}, patch["tags"])
	zc.AssertExpectations(t)
}

func TestRunItem_AlreadyProcessed(t *testing.T) {
	zc := new(mockZotero)
	zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Data: zotero.ItemData{
		ItemType: "report", Tags: []zotero.Tag{{Tag: "./metadata"}},
	}}, nil)

	ex := &fakeExtractor{record: noteRecord}
	summary, err := newTestPipeline(zc, &fakeReader{}, ex, Options{}).RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, ex.requests)
	zc.AssertNotCalled(t, "Children", mock.Anything, mock.Anything)
}

func TestRunItem_KeepDuplicatesReplacesGeneratedTags(t *testing.T) {
	zc := new(mockZotero)
	zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Version: 9, Data: zotero.ItemData{
		ItemType: "report", Tags: []zotero.Tag{{Tag: "lu"}, {Tag: "./Ancien", Type: 1}, {Tag: "./metadata"}},
	}}, nil)
	zc.On("Children", mock.Anything, "ITEM1").Return([]zotero.Item{pdfChild("ATT1", "rapport.pdf")}, nil)
	zc.On("DownloadFile", mock.Anything, "ATT1", mock.Anything).Run(writeFile("%PDF")).Return(nil)

	var patch map[string]any
	zc.On("UpdateItem", mock.Anything, "ITEM1", 9, mock.Anything).
		Run(func(args mock.Arguments) { patch = args.Get(3).(map[string]any) }).
		Return(nil)

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, &fakeExtractor{record: noteRecord}, Options{KeepDuplicates: true}).
		RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.NotContains(t, patch, "itemType")
	assert.NotContains(t, patch, "extra")
	assert.Equal(t, []zotero.Tag{{Tag: "lu"}, {Tag: "./Migration"}, {Tag: "./metadata"}}, patch["tags"])
}

func TestRunItem_DryRun(t *testing.T) {
	logs := observeLogs(t)

	zc := new(mockZotero)
	zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Version: 2, Data: zotero.ItemData{ItemType: "report"}}, nil)
	zc.On("Children", mock.Anything, "ITEM1").Return([]zotero.Item{pdfChild("ATT1", "a.pdf")}, nil)
	zc.On("DownloadFile", mock.Anything, "ATT1", mock.Anything).Run(writeFile("%PDF")).Return(nil)

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, &fakeExtractor{record: noteRecord}, Options{DryRun: true}).
		RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Succeeded)
	zc.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	entries := logs.FilterMessage("pipeline: dry run, would update item").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ITEM1", entries[0].ContextMap()["item"])
	assert.Equal(t, 1, logs.FilterMessage("pipeline: processing").FilterField(zap.String("progress", "[1/1]")).Len())
}

func TestRunItem_AttachmentKeyResolvesToParent(t *testing.T) {
	zc := new(mockZotero)
	att := pdfChild("ATT1", "a.pdf")
	zc.On("Item", mock.Anything, "ATT1").Return(&att, nil)
	zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Version: 3, Data: zotero.ItemData{ItemType: "report"}}, nil)
	zc.On("DownloadFile", mock.Anything, "ATT1", mock.Anything).Run(writeFile("%PDF")).Return(nil)
	zc.On("UpdateItem", mock.Anything, "ITEM1", 3, mock.Anything).Return(nil)

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, &fakeExtractor{record: noteRecord}, Options{}).
		RunItem(context.Background(), "ATT1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	zc.AssertNotCalled(t, "Children", mock.Anything, mock.Anything)
	zc.AssertExpectations(t)
}

func TestRunItem_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(zc *mockZotero)
		reader   *fakeReader
		ex       *fakeExtractor
		wantKind fault.Kind
	}{
		{
			name: "item fetch fails",
			setup: func(zc *mockZotero) {
				zc.On("Item", mock.Anything, "ITEM1").Return(nil, &zotero.APIError{Op: "get item ITEM1", StatusCode: 404})
			},
			wantKind: fault.KindRemoteUpdate,
		},
		{
			name: "no pdf",
			setup: func(zc *mockZotero) {
				zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Data: zotero.ItemData{ItemType: "report"}}, nil)
				zc.On("Children", mock.Anything, "ITEM1").Return([]zotero.Item{}, nil)
			},
			wantKind: fault.KindExtraction,
		},
		{
			name: "note",
			setup: func(zc *mockZotero) {
				zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Data: zotero.ItemData{ItemType: "note"}}, nil)
			},
			wantKind: fault.KindExtraction,
		},
		{
			name:     "ocr fails",
			setup:    withPDF,
			reader:   &fakeReader{err: fault.Extraction(errors.New("ocr: no text found"))},
			wantKind: fault.KindExtraction,
		},
		{
			name:     "invalid date",
			setup:    withPDF,
			ex:       &fakeExtractor{record: func(extract.Request) *model.Record { return &model.Record{Date: "mars 1987"} }},
			wantKind: fault.KindExtraction,
		},
		{
			name: "version conflict",
			setup: func(zc *mockZotero) {
				withPDF(zc)
				zc.On("UpdateItem", mock.Anything, "ITEM1", 1, mock.Anything).
					Return(&zotero.APIError{Op: "update item ITEM1", StatusCode: 412})
			},
			wantKind: fault.KindRemoteUpdate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zc := new(mockZotero)
			tt.setup(zc)
			reader := tt.reader
			if reader == nil {
				reader = &fakeReader{text: "x"}
			}
			ex := tt.ex
			if ex == nil {
				ex = &fakeExtractor{record: noteRecord}
			}

			summary, err := newTestPipeline(zc, reader, ex, Options{}).RunItem(context.Background(), "ITEM1")
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Errored)
			require.Len(t, summary.Failures, 1)
			assert.Equal(t, string(tt.wantKind), summary.Failures[0].Kind)
			assert.Equal(t, "ITEM1", summary.Failures[0].ItemKey)
		})
	}
}

func withPDF(zc *mockZotero) {
	zc.On("Item", mock.Anything, "ITEM1").Return(&zotero.Item{Key: "ITEM1", Version: 1, Data: zotero.ItemData{ItemType: "report"}}, nil)
	zc.On("Children", mock.Anything, "ITEM1").Return([]zotero.Item{pdfChild("ATT1", "a.pdf")}, nil)
	zc.On("DownloadFile", mock.Anything, "ATT1", mock.Anything).Run(writeFile("%PDF")).Return(nil)
}

func TestRunItem_UnparsableAnswerStillCountsUsage(t *testing.T) {
	zc := new(mockZotero)
	withPDF(zc)
	ex := &fakeExtractor{
		err:   fault.Extraction(errors.New("parse: no JSON object in answer")),
		usage: model.Usage{Calls: 1, InputTokens: 800, OutputTokens: 20, CostUSD: 0.001},
	}

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, ex, Options{}).RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Usage.Calls)
	assert.Equal(t, int64(800), summary.Usage.InputTokens)
}

func TestRunItem_RejectedRecordIsLogged(t *testing.T) {
	logs := observeLogs(t)
	zc := new(mockZotero)
	withPDF(zc)
	ex := &fakeExtractor{record: func(extract.Request) *model.Record {
		return &model.Record{Title: "Visa", Place: "Bern", Date: "1987"}
	}}

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, ex, Options{}).RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	zc.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	rejected := logs.FilterMessage("pipeline: record rejected")
	require.Equal(t, 1, rejected.Len())
	entry := rejected.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "a.pdf", entry.ContextMap()["source"])
	rec, ok := entry.ContextMap()["record"].(*model.Record)
	require.True(t, ok)
	assert.Equal(t, "Visa", rec.Title)
	assert.Equal(t, "1987", rec.Date)
}

func TestRunItem_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	zc := new(mockZotero)
	summary, err := newTestPipeline(zc, &fakeReader{}, &fakeExtractor{record: noteRecord}, Options{}).RunItem(ctx, "ITEM1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Total)
	assert.Zero(t, summary.Succeeded+summary.Skipped+summary.Errored)
	zc.AssertNotCalled(t, "Item", mock.Anything, mock.Anything)
}

func TestRunItem_RecordsRun(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	zc := new(mockZotero)
	withPDF(zc)
	zc.On("UpdateItem", mock.Anything, "ITEM1", 1, mock.Anything).Return(nil)

	p := New(zc, &fakeReader{text: "x"}, &fakeExtractor{record: noteRecord}, normalize.New(nil, normalize.DefaultMarkerTag), st, Options{Model: "m"})
	_, err = p.RunItem(context.Background(), "ITEM1")
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunModeItem, runs[0].Mode)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, "m", runs[0].Model)
}

func writePDFs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestRunFolder(t *testing.T) {
	dir := writePDFs(t, map[string]string{
		"a.pdf":     "%PDF new",
		"b.pdf":     "%PDF known",
		"c.pdf":     "%PDF new",
		"sub/d.pdf": "%PDF nested",
		"notes.txt": "not a pdf",
	})

	zc := new(mockZotero)
	zc.On("Attachments", mock.Anything).Return([]zotero.Item{
		{Key: "ATTK", Data: zotero.ItemData{ItemType: "attachment", MD5: md5Hex("%PDF known"), ParentItem: "KNOWN"}},
	}, nil)
	zc.On("Item", mock.Anything, "KNOWN").Return(&zotero.Item{Key: "KNOWN", Data: zotero.ItemData{
		ItemType: "report", Tags: []zotero.Tag{{Tag: "./metadata"}},
	}}, nil)

	var created map[string]any
	zc.On("CreateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { created = args.Get(1).(map[string]any) }).
		Return(&zotero.Item{Key: "NEW1"}, nil)
	zc.On("UploadAttachment", mock.Anything, "NEW1", filepath.Join(dir, "a.pdf")).Return(&zotero.Item{Key: "ATT9"}, nil)

	reader := &fakeReader{text: "x"}
	summary, err := newTestPipeline(zc, reader, &fakeExtractor{record: noteRecord}, Options{Collections: []string{"COLL"}}).
		RunFolder(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, model.RunModeFolder, summary.Mode)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf")}, reader.paths)

	require.NotNil(t, created)
	assert.Equal(t, "report", created["itemType"])
	assert.Equal(t, []string{"COLL"}, created["collections"])
	assert.Equal(t, "Note Relative À La Libre Circulation Des Personnes", created["title"])
	zc.AssertExpectations(t)
}

func TestRunFolder_RecursivePattern(t *testing.T) {
	dir := writePDFs(t, map[string]string{
		"CamScanner 01-02-1990 10.00.pdf":     "%PDF 1",
		"sub/CamScanner 02-02-1990 11.00.pdf": "%PDF 2",
		"sub/other.pdf":                       "%PDF 3",
	})

	zc := new(mockZotero)
	zc.On("Attachments", mock.Anything).Return([]zotero.Item{}, nil)

	ex := &fakeExtractor{record: noteRecord}
	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, ex, Options{DryRun: true, Recursive: true, Pattern: "CamScanner*"}).
		RunFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, ex.requests, 2)
	assert.Equal(t, "CamScanner 01-02-1990 10.00.pdf", ex.requests[0].Filename)
	zc.AssertNotCalled(t, "CreateItem", mock.Anything, mock.Anything)
	zc.AssertNotCalled(t, "UploadAttachment", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunFolder_UploadFailure(t *testing.T) {
	dir := writePDFs(t, map[string]string{"a.pdf": "%PDF"})

	zc := new(mockZotero)
	zc.On("Attachments", mock.Anything).Return([]zotero.Item{}, nil)
	zc.On("CreateItem", mock.Anything, mock.Anything).Return(&zotero.Item{Key: "NEW1"}, nil)
	zc.On("UploadAttachment", mock.Anything, "NEW1", mock.Anything).Return(nil, errors.New("storage quota exceeded"))

	summary, err := newTestPipeline(zc, &fakeReader{text: "x"}, &fakeExtractor{record: noteRecord}, Options{}).
		RunFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, string(fault.KindRemoteUpdate), summary.Failures[0].Kind)
	assert.Contains(t, summary.Failures[0].Error, "NEW1 created")
}

func TestRunFolder_Errors(t *testing.T) {
	zc := new(mockZotero)
	p := newTestPipeline(zc, &fakeReader{}, &fakeExtractor{record: noteRecord}, Options{})

	_, err := p.RunFolder(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, fault.IsConfiguration(err))

	zc.On("Attachments", mock.Anything).Return(nil, errors.New("zotero: get attachments: status 403: Forbidden"))
	_, err = p.RunFolder(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, fault.IsRemoteUpdate(err))
}

func TestRunLibrary(t *testing.T) {
	zc := new(mockZotero)
	zc.On("TopItems", mock.Anything).Return([]zotero.Item{
		{Key: "I1", Data: zotero.ItemData{ItemType: "report", Title: "Rapport", Tags: []zotero.Tag{{Tag: "./metadata"}}}},
		{Key: "N1", Data: zotero.ItemData{ItemType: "note"}},
		{Key: "A1", Data: zotero.ItemData{ItemType: "attachment", ParentItem: "I1"}},
		{Key: "A2", Data: zotero.ItemData{ItemType: "attachment", Filename: "orphan.pdf"}},
	}, nil)

	summary, err := newTestPipeline(zc, &fakeReader{}, &fakeExtractor{record: noteRecord}, Options{}).RunLibrary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunModeLibrary, summary.Mode)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, "orphan.pdf", summary.Failures[0].Source)
	zc.AssertNotCalled(t, "Item", mock.Anything, mock.Anything)
}

func TestRunLibrary_RecursiveCollections(t *testing.T) {
	processed := []zotero.Tag{{Tag: "./metadata"}}
	zc := new(mockZotero)
	zc.On("CollectionTopItems", mock.Anything, "C1").Return([]zotero.Item{{Key: "I1", Data: zotero.ItemData{ItemType: "report", Tags: processed}}}, nil)
	zc.On("SubCollections", mock.Anything, "C1").Return([]zotero.Collection{{Key: "C2"}}, nil)
	zc.On("CollectionTopItems", mock.Anything, "C2").Return([]zotero.Item{{Key: "I2", Data: zotero.ItemData{ItemType: "report", Tags: processed}}}, nil)
	zc.On("SubCollections", mock.Anything, "C2").Return([]zotero.Collection{{Key: "C1"}}, nil)

	summary, err := newTestPipeline(zc, &fakeReader{}, &fakeExtractor{record: noteRecord}, Options{Collections: []string{"C1"}, Recursive: true}).
		RunLibrary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Skipped)
	zc.AssertNumberOfCalls(t, "CollectionTopItems", 2)
	zc.AssertNotCalled(t, "TopItems", mock.Anything)
}

func TestRunLibrary_ListError(t *testing.T) {
	zc := new(mockZotero)
	zc.On("TopItems", mock.Anything).Return(nil, errors.New("boom"))

	_, err := newTestPipeline(zc, &fakeReader{}, &fakeExtractor{record: noteRecord}, Options{}).RunLibrary(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsRemoteUpdate(err))
}

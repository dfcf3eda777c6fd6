package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nexvmeta/internal/domain"
)

type stubAnalyzer struct {
	mu    sync.Mutex
	reqs  []domain.AnalysisRequest
	fail  map[string]error
	title string
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if err := s.fail[req.Filename]; err != nil {
		return nil, err
	}
	return &domain.AnalysisResult{
		Title:    s.title + " " + req.Filename,
		Keywords: []domain.Keyword{{Tag: "fox"}, {Tag: "snow"}},
		Category: 1,
	}, nil
}

type stubUploader struct {
	names []string
}

func (u *stubUploader) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	u.names = append(u.names, name)
	return "https://cdn.example.test/" + name, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	snapshots [][]domain.QueueItem
}

func (n *recordingNotifier) Broadcast(items []domain.QueueItem) {
	n.mu.Lock()
	n.snapshots = append(n.snapshots, items)
	n.mu.Unlock()
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), nil)
}

func TestServiceEnqueueListAndClaimOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	items, err := svc.Enqueue(ctx, []NewItem{
		{Filename: "a.jpg", Data: []byte("a"), MIMEType: "image/jpeg"},
		{Filename: "b.jpg", ImageURL: "https://example.test/b.jpg"},
	}, domain.ConstraintSettings{KeywordMax: 10}, "id")
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if len(items) != 2 || items[0].Status != domain.QueueStatusPending || items[0].Data != nil {
		t.Fatalf("unexpected items: %+v", items)
	}
	select {
	case <-svc.Wake():
	default:
		t.Fatalf("enqueue did not wake the runner")
	}
	if len(notifier.snapshots) != 1 || len(notifier.snapshots[0]) != 2 {
		t.Fatalf("unexpected snapshots: %+v", notifier.snapshots)
	}

	claimed, err := svc.repo.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if claimed.Filename != "a.jpg" || claimed.Status != domain.QueueStatusUploading || claimed.Attempts != 1 || string(claimed.Data) != "a" {
		t.Fatalf("unexpected claim: %+v", claimed)
	}
	if claimed.Settings.KeywordMax != 10 || claimed.Locale != "id" {
		t.Fatalf("settings not kept: %+v", claimed)
	}
	next, err := svc.repo.ClaimNext(ctx)
	if err != nil || next.Filename != "b.jpg" {
		t.Fatalf("second claim = %+v, %v", next, err)
	}
	if _, err := svc.repo.ClaimNext(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("third claim error = %v, want ErrNotFound", err)
	}
}

func TestServiceEnqueueRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Enqueue(context.Background(), nil, domain.ConstraintSettings{}, ""); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("Enqueue(nil) error = %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), []NewItem{{Filename: "x.jpg"}}, domain.ConstraintSettings{}, ""); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("Enqueue(no data) error = %v", err)
	}
}

func TestServiceDeleteAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	items, err := svc.Enqueue(ctx, []NewItem{{Filename: "a.jpg", Data: []byte("a")}}, domain.ConstraintSettings{}, "")
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := svc.Get(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(bad id) error = %v", err)
	}
	if _, err := svc.repo.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if err := svc.Delete(ctx, items[0].ID); !errors.Is(err, ErrItemBusy) {
		t.Fatalf("Delete(busy) error = %v, want ErrItemBusy", err)
	}
	item, _ := svc.Get(ctx, items[0].ID)
	item.Status = domain.QueueStatusError
	if err := svc.repo.Update(ctx, item); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := svc.Delete(ctx, items[0].ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := svc.Get(ctx, items[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete error = %v", err)
	}
}

func newTestRunner(t *testing.T, svc *Service, analyzer Analyzer, uploader Uploader) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerOptions{Service: svc, Analyzer: analyzer, Uploader: uploader, ItemDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewRunner error: %v", err)
	}
	return r
}

func TestRunnerProcessesAndRetriesFailed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	analyzer := &stubAnalyzer{title: "Red fox", fail: map[string]error{
		"bad.jpg": &domain.AnalysisFailedError{Attempts: 5, Class: domain.ClassRateLimited, Err: errors.New("quota")},
	}}
	uploader := &stubUploader{}
	runner := newTestRunner(t, svc, analyzer, uploader)

	if _, err := svc.Enqueue(ctx, []NewItem{
		{Filename: "good.jpg", Data: []byte("g"), MIMEType: "image/jpeg"},
		{Filename: "bad.jpg", Data: []byte("b"), MIMEType: "image/jpeg"},
	}, domain.ConstraintSettings{}, "en"); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	for i := 0; i < 2; i++ {
		processed, err := runner.RunOnce(ctx)
		if err != nil || !processed {
			t.Fatalf("RunOnce #%d = %v, %v", i, processed, err)
		}
	}
	if processed, err := runner.RunOnce(ctx); err != nil || processed {
		t.Fatalf("RunOnce on empty queue = %v, %v", processed, err)
	}

	items, _ := svc.List(ctx)
	if items[0].Status != domain.QueueStatusDone || items[0].Result == nil || items[0].Result.Title != "Red fox good.jpg" {
		t.Fatalf("good item = %+v", items[0])
	}
	if !strings.HasPrefix(items[0].ImageURL, "https://cdn.example.test/") || items[0].StorageKey == "" {
		t.Fatalf("good item not uploaded: %+v", items[0])
	}
	if items[1].Status != domain.QueueStatusError || !strings.Contains(items[1].Error, "quota") {
		t.Fatalf("bad item = %+v", items[1])
	}
	if len(uploader.names) != 2 {
		t.Fatalf("uploads = %v, want 2", uploader.names)
	}
	first := analyzer.reqs[0]
	if first.Image.URL == "" || string(first.Image.Data) != "g" || first.Locale != "en" {
		t.Fatalf("analyzer request = %+v", first)
	}

	delete(analyzer.fail, "bad.jpg")
	n, err := svc.RetryFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v", n, err)
	}
	if processed, err := runner.RunOnce(ctx); err != nil || !processed {
		t.Fatalf("RunOnce after retry = %v, %v", processed, err)
	}
	retried, _ := svc.Get(ctx, items[1].ID)
	if retried.Status != domain.QueueStatusDone || retried.Attempts != 2 || retried.Error != "" {
		t.Fatalf("retried item = %+v", retried)
	}
	if len(uploader.names) != 2 {
		t.Fatalf("retried item uploaded again: %v", uploader.names)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := newTestService(t)
	runner := newTestRunner(t, svc, &stubAnalyzer{}, nil)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
}

func TestExportZip(t *testing.T) {
	items := []domain.QueueItem{
		{ID: "1", Filename: "fox.jpg", Status: domain.QueueStatusDone, Result: &domain.AnalysisResult{
			Title: "Red fox, winter", Category: 1, Keywords: []domain.Keyword{{Tag: "fox"}, {Tag: "snow"}},
		}},
		{ID: "2", Filename: "owl.jpg", Status: domain.QueueStatusError, Error: "boom"},
	}
	var buf bytes.Buffer
	if err := Export(&buf, items); err != nil {
		t.Fatalf("Export error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "metadata.csv" || zr.File[1].Name != "fox.json" {
		names := []string{}
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		t.Fatalf("unexpected entries: %v", names)
	}
	rc, _ := zr.File[0].Open()
	data, _ := io.ReadAll(rc)
	rc.Close()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	want := [][]string{csvHeader, {"fox.jpg", "Red fox, winter", "fox, snow", "1", ""}}
	if len(records) != 2 || strings.Join(records[1], "|") != strings.Join(want[1], "|") {
		t.Fatalf("csv = %v, want %v", records, want)
	}
}

func TestHubSendsSnapshots(t *testing.T) {
	hub := NewHub(nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, []domain.QueueItem{{ID: "1", Status: domain.QueueStatusPending}})
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Type != "snapshot" || len(first.Items) != 1 || first.Counts[domain.QueueStatusPending] != 1 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Broadcast([]domain.QueueItem{{ID: "1", Status: domain.QueueStatusDone}, {ID: "2", Status: domain.QueueStatusDone}})
	var next Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if len(next.Items) != 2 || next.Counts[domain.QueueStatusDone] != 2 {
		t.Fatalf("unexpected broadcast: %+v", next)
	}
}

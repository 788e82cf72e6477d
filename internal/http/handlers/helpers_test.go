package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nkoutris/go-chat-sync/internal/cloud"
	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/llm"
	"github.com/nkoutris/go-chat-sync/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "handlers.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Chat{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// ---------- cloud stub ----------

var errCloudDown = fmt.Errorf("cloud unavailable")

// cloudStub is an in-memory services.CloudStore with per-operation failure
// switches, mirroring what the real document API would return.
type cloudStub struct {
	chats  map[string]*cloud.ChatDoc
	msgs   map[string][]cloud.MessageDoc
	nextID int

	failAll bool
}

func newCloudStub() *cloudStub {
	return &cloudStub{
		chats: make(map[string]*cloud.ChatDoc),
		msgs:  make(map[string][]cloud.MessageDoc),
	}
}

func (f *cloudStub) id() string {
	f.nextID++
	return fmt.Sprintf("doc-%d", f.nextID)
}

func (f *cloudStub) CreateChat(_ context.Context, userID string, d cloud.ChatDoc) (*cloud.ChatDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	d.ID = f.id()
	d.UserID = userID
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	f.chats[d.ID] = &d
	out := d
	return &out, nil
}

func (f *cloudStub) ListChats(_ context.Context, userID string, _ int) ([]cloud.ChatDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	var out []cloud.ChatDoc
	for _, d := range f.chats {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *cloudStub) GetChat(_ context.Context, remoteID string) (*cloud.ChatDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	d, ok := f.chats[remoteID]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (f *cloudStub) UpdateChat(_ context.Context, remoteID string, patch map[string]any) (*cloud.ChatDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	d, ok := f.chats[remoteID]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	for k, v := range patch {
		switch k {
		case "title":
			d.Title, _ = v.(string)
		case "isArchived":
			d.IsArchived, _ = v.(bool)
		case "isPinned":
			d.IsPinned, _ = v.(bool)
		case "messageCount":
			switch n := v.(type) {
			case int:
				d.MessageCount = n
			case int64:
				d.MessageCount = int(n)
			}
		case "shareId":
			d.ShareID, _ = v.(string)
		case "sharedBy":
			d.SharedBy, _ = v.(string)
		case "sharedAt":
			if ts, ok := v.(*time.Time); ok {
				d.SharedAt = ts
			}
		}
	}
	d.UpdatedAt = time.Now().UTC()
	out := *d
	return &out, nil
}

func (f *cloudStub) DeleteChat(_ context.Context, remoteID string) error {
	if f.failAll {
		return errCloudDown
	}
	delete(f.chats, remoteID)
	delete(f.msgs, remoteID)
	return nil
}

func (f *cloudStub) CreateMessage(_ context.Context, userID string, d cloud.MessageDoc) (*cloud.MessageDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	d.ID = f.id()
	d.UserID = userID
	d.CreatedAt = time.Now().UTC()
	f.msgs[d.ChatID] = append(f.msgs[d.ChatID], d)
	out := d
	return &out, nil
}

func (f *cloudStub) ListMessages(_ context.Context, chatID string) ([]cloud.MessageDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	return append([]cloud.MessageDoc(nil), f.msgs[chatID]...), nil
}

func (f *cloudStub) FindChatByShareID(_ context.Context, shareID string) (*cloud.ChatDoc, error) {
	if f.failAll {
		return nil, errCloudDown
	}
	for _, d := range f.chats {
		if d.ShareID == shareID {
			out := *d
			return &out, nil
		}
	}
	return nil, cloud.ErrNotFound
}

// ---------- blob, streamer, image, usage stubs ----------

type blobStub struct {
	blobs map[string]string
}

func (f *blobStub) GetSummariesBlob(_ context.Context, userID string) (string, error) {
	return f.blobs[userID], nil
}

func (f *blobStub) PutSummariesBlob(_ context.Context, userID, blob string) error {
	if f.blobs == nil {
		f.blobs = make(map[string]string)
	}
	f.blobs[userID] = blob
	return nil
}

// streamStub replays a scripted reply in small chunks.
type streamStub struct {
	reply   string
	err     error
	calls   int
	lastReq llm.ChatRequest
}

func (f *streamStub) StreamChat(_ context.Context, req llm.ChatRequest, onDelta func(string)) (string, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	if onDelta != nil {
		r := []rune(f.reply)
		for i := 0; i < len(r); i += 4 {
			end := i + 4
			if end > len(r) {
				end = len(r)
			}
			onDelta(string(r[i:end]))
		}
	}
	return f.reply, nil
}

func (f *streamStub) Complete(ctx context.Context, req llm.ChatRequest) (string, error) {
	return f.StreamChat(ctx, req, nil)
}

type imageStub struct {
	url     string
	revised string
	err     error
	calls   int
}

func (f *imageStub) GenerateImage(_ context.Context, prompt, _, _, _, _ string) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return f.url, "revised: " + prompt, nil
}

type usageStub struct {
	counts map[string]int
}

func (f *usageStub) GetImageCount(_ context.Context, userID string) (int, error) {
	return f.counts[userID], nil
}

func (f *usageStub) IncrementImageCount(_ context.Context, userID string) (int, error) {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[userID]++
	return f.counts[userID], nil
}

// jsonRequest builds a request with a JSON body but no headers set beyond
// the content type, for tests that need header control.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h *harness, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

// cloudDoc builds a minimal chat document for seeding the cloud stub.
func cloudDoc(title string) cloud.ChatDoc {
	return cloud.ChatDoc{Title: title}
}

// testContext builds a request-bound Gin context for unit-testing helpers.
func testContext(t *testing.T, w *httptest.ResponseRecorder, target string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c
}

// ---------- harness ----------

type harness struct {
	r      *gin.Engine
	h      *Handlers
	db     *gorm.DB
	cloud  *cloudStub
	stream *streamStub
	images *imageStub
	usage  *usageStub
}

// newHarness wires the handlers over real services with in-memory fakes and
// registers the same route shapes the router exposes.
func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	cs := newCloudStub()
	st := &streamStub{reply: "Here is the answer."}
	ig := &imageStub{url: "https://img.example/1.png"}
	us := &usageStub{}

	syncSvc := services.NewSyncService(db, cs, &services.MetadataService{Store: &blobStub{}})
	turnSvc := &services.TurnService{
		Sync:         syncSvc,
		LLM:          st,
		Titles:       &services.TitleService{},
		DefaultModel: "openai/gpt-4o-mini",
	}
	imgSvc := &services.ImageService{Sync: syncSvc, LLM: ig, Usage: us}

	h := New(syncSvc, turnSvc, imgSvc)

	r := gin.New()
	r.POST("/chats", h.CreateChat)
	r.GET("/chats", h.ListChats)
	r.PUT("/chats/:id/title", h.UpdateChatTitle)
	r.PUT("/chats/:id/archive", h.ArchiveChat)
	r.PUT("/chats/:id/pin", h.PinChat)
	r.DELETE("/chats/:id", h.DeleteChat)
	r.GET("/chats/:id/messages", h.ListMessages)
	r.POST("/chats/:id/messages", h.PostMessage)
	r.POST("/chats/:id/messages/:msgId/regenerate", h.Regenerate)
	r.POST("/chats/:id/share", h.ShareChat)
	r.DELETE("/chats/:id/share", h.UnshareChat)
	r.GET("/shared/:shareId", h.GetSharedChat)
	r.POST("/chats/:id/images", h.GenerateImage)
	r.GET("/images/quota", h.ImageQuota)
	r.GET("/models", h.ListModels)
	r.POST("/title", h.DeriveTitle)
	r.POST("/sync", h.SyncGuestChats)

	return &harness{r: r, h: h, db: db, cloud: cs, stream: st, images: ig, usage: us}
}

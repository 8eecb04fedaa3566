package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudsecdocs/docschat/internal/cache"
	"github.com/cloudsecdocs/docschat/internal/chat"
	"github.com/cloudsecdocs/docschat/internal/completion"
	"github.com/cloudsecdocs/docschat/internal/store"
	"github.com/cloudsecdocs/docschat/internal/usage"
	"github.com/cloudsecdocs/docschat/pkg/models"
)

type fakeRetriever struct {
	docs          []models.RetrievedDoc
	err           error
	calls         int
	lastThreshold float64
	lastCount     int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, threshold float64, count int) ([]models.RetrievedDoc, error) {
	f.calls++
	f.lastThreshold = threshold
	f.lastCount = count
	return f.docs, f.err
}

func (f *fakeRetriever) HealthCheck(context.Context) error { return nil }

type fakeStreamer struct {
	chunks  []completion.Chunk
	err     error
	calls   int
	lastReq completion.Request
}

func (f *fakeStreamer) Stream(_ context.Context, req completion.Request) (<-chan completion.Chunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan completion.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type recordSink struct {
	events    []models.StreamEvent
	failAfter int // Send errors once this many events were accepted; 0 = never
}

func (s *recordSink) Send(e models.StreamEvent) error {
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errors.New("client gone")
	}
	s.events = append(s.events, e)
	return nil
}

const testDay = "2026-03-01"

type fixture struct {
	retriever *fakeRetriever
	streamer  *fakeStreamer
	store     *store.MemoryStore
	cache     *cache.ResponseCache
	ledger    *usage.Ledger
	pipeline  *chat.Pipeline
	sink      *recordSink
}

func newFixture(limit int64) *fixture {
	f := &fixture{
		retriever: &fakeRetriever{},
		streamer:  &fakeStreamer{},
		store:     store.NewMemoryStore(),
		sink:      &recordSink{},
	}
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	f.cache = cache.New(f.store, cache.WithClock(clock))
	f.ledger = usage.NewLedger(f.store, usage.WithDailyLimit(limit), usage.WithClock(clock))
	f.pipeline = chat.NewPipeline(f.retriever, f.streamer, f.cache, f.ledger)
	return f
}

func userRequest(contents ...string) models.ChatRequest {
	var msgs []models.ChatMessage
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.ChatMessage{Role: role, Content: c})
	}
	return models.ChatRequest{Messages: msgs}
}

func textChunks(texts ...string) []completion.Chunk {
	var chunks []completion.Chunk
	for _, t := range texts {
		chunks = append(chunks, completion.Chunk{Text: t})
	}
	return append(chunks, completion.Chunk{Done: true})
}

func TestRespond_NoUserMessage(t *testing.T) {
	f := newFixture(100_000)
	req := models.ChatRequest{Messages: []models.ChatMessage{
		{Role: models.RoleAssistant, Content: "hello"},
	}}

	err := f.pipeline.Respond(context.Background(), "alice", req, f.sink)
	if !errors.Is(err, chat.ErrNoUserMessage) {
		t.Fatalf("Respond() error = %v, want ErrNoUserMessage", err)
	}
	if f.streamer.calls != 0 {
		t.Error("completion started without a user message")
	}
}

func TestRespond_QuotaExceeded(t *testing.T) {
	f := newFixture(100)
	f.ledger.RecordUsage(context.Background(), "alice", 60, 40)

	err := f.pipeline.Respond(context.Background(), "alice", userRequest("what is IAM?"), f.sink)

	var quotaErr *chat.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Respond() error = %v, want QuotaExceededError", err)
	}
	if quotaErr.Status.Used != 100 || quotaErr.Status.Limit != 100 {
		t.Errorf("quota status = %+v, want used 100, limit 100", quotaErr.Status)
	}
	if f.retriever.calls != 0 || f.streamer.calls != 0 {
		t.Error("retrieval or completion ran for a quota-exhausted user")
	}
	if len(f.sink.events) != 0 {
		t.Errorf("sink received %d events, want 0", len(f.sink.events))
	}
}

func TestRespond_CacheHit(t *testing.T) {
	f := newFixture(100_000)
	ctx := context.Background()
	f.cache.Store(ctx, "what is IAM?", "", "IAM is identity and access management.")

	if err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if len(f.sink.events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(f.sink.events))
	}
	if got := f.sink.events[0]; got.Content != "IAM is identity and access management." || got.Role != models.RoleAssistant {
		t.Errorf("event = %+v, want the cached answer as assistant", got)
	}
	if f.retriever.calls != 0 || f.streamer.calls != 0 {
		t.Error("retrieval or completion ran on a cache hit")
	}
	if _, err := f.store.GetUsage(ctx, "alice", testDay); !store.IsNotFound(err) {
		t.Error("usage recorded for a cache hit, want none")
	}
}

func TestRespond_HappyPath(t *testing.T) {
	f := newFixture(100_000)
	f.retriever.docs = []models.RetrievedDoc{
		{Content: "IAM controls who can do what in your cloud account.", Similarity: 0.9},
	}
	f.streamer.chunks = textChunks("IAM ", "is ", "identity.")
	ctx := context.Background()

	if err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	want := []string{"IAM ", "is ", "identity."}
	if len(f.sink.events) != len(want) {
		t.Fatalf("sink received %d events, want %d", len(f.sink.events), len(want))
	}
	for i, w := range want {
		if f.sink.events[i].Content != w {
			t.Errorf("event[%d] = %q, want %q (order must match arrival)", i, f.sink.events[i].Content, w)
		}
	}

	if f.retriever.lastThreshold != 0.5 || f.retriever.lastCount != 4 {
		t.Errorf("retrieval params = (%v, %d), want (0.5, 4) for a new question",
			f.retriever.lastThreshold, f.retriever.lastCount)
	}
	if f.streamer.lastReq.MaxTokens != 1200 {
		t.Errorf("MaxTokens = %d, want 1200 for a new question", f.streamer.lastReq.MaxTokens)
	}
	if !strings.Contains(f.streamer.lastReq.SystemPrompt, "IAM controls who can do what") {
		t.Error("retrieved passage missing from the system prompt")
	}

	contextText := "Here's relevant information from our documentation:\n\nIAM controls who can do what in your cloud account.\n\n"
	cached, ok := f.cache.Lookup(ctx, "what is IAM?", contextText)
	if !ok {
		t.Fatal("answer not cached under its context fingerprint")
	}
	if cached != "IAM is identity." {
		t.Errorf("cached answer = %q, want the accumulated stream", cached)
	}

	rec, err := f.store.GetUsage(ctx, "alice", testDay)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	wantPrompt := int64(usage.EstimateTokens(f.streamer.lastReq.SystemPrompt) + usage.EstimateTokens("what is IAM?"))
	if rec.TokensPrompt != wantPrompt {
		t.Errorf("TokensPrompt = %d, want %d", rec.TokensPrompt, wantPrompt)
	}
	if want := int64(usage.EstimateTokens("IAM is identity.")); rec.TokensCompletion != want {
		t.Errorf("TokensCompletion = %d, want %d", rec.TokensCompletion, want)
	}
}

func TestRespond_StreamErrorDiscardsBookkeeping(t *testing.T) {
	f := newFixture(100_000)
	f.streamer.chunks = []completion.Chunk{
		{Text: "Hello "},
		{Text: "wor"},
		{Err: errors.New("provider reset")},
	}
	ctx := context.Background()

	err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink)
	if err == nil {
		t.Fatal("Respond() error = nil, want stream error")
	}

	// Fragments delivered before the failure stand.
	if len(f.sink.events) != 2 {
		t.Errorf("sink received %d events, want the 2 pre-failure fragments", len(f.sink.events))
	}

	// The partial answer must be neither cached nor billed.
	if _, ok := f.cache.Lookup(ctx, "what is IAM?", ""); ok {
		t.Error("partial answer was cached")
	}
	if _, err := f.store.GetUsage(ctx, "alice", testDay); !store.IsNotFound(err) {
		t.Error("partial answer was billed")
	}
}

func TestRespond_RetrievalFailureDegrades(t *testing.T) {
	f := newFixture(100_000)
	f.retriever.err = errors.New("index unreachable")
	f.streamer.chunks = textChunks("best-effort answer")

	err := f.pipeline.Respond(context.Background(), "alice", userRequest("what is IAM?"), f.sink)
	if err != nil {
		t.Fatalf("Respond() error = %v, retrieval failure must not fail the request", err)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(f.sink.events))
	}
	if !strings.Contains(f.streamer.lastReq.SystemPrompt, "issue connecting to the document database") {
		t.Error("degraded-retrieval disclaimer missing from the system prompt")
	}
}

func TestRespond_ContinuationSkipsRetrieval(t *testing.T) {
	f := newFixture(100_000)
	f.streamer.chunks = textChunks("more detail")

	req := userRequest(
		"what is IAM?",
		"IAM is identity and access management.",
		"tell me more",
	)
	if err := f.pipeline.Respond(context.Background(), "alice", req, f.sink); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if f.retriever.calls != 0 {
		t.Error("retrieval ran for a continuation follow-up")
	}
	if f.streamer.lastReq.MaxTokens != 800 {
		t.Errorf("MaxTokens = %d, want 800 for a follow-up", f.streamer.lastReq.MaxTokens)
	}
}

func TestRespond_FollowUpRetrievalBudgets(t *testing.T) {
	f := newFixture(100_000)
	f.streamer.chunks = textChunks("because of least privilege")

	req := userRequest(
		"what is IAM?",
		"IAM is identity and access management.",
		"why?",
	)
	if err := f.pipeline.Respond(context.Background(), "alice", req, f.sink); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if f.retriever.calls != 1 {
		t.Fatalf("retriever calls = %d, want 1", f.retriever.calls)
	}
	if f.retriever.lastThreshold != 0.75 || f.retriever.lastCount != 2 {
		t.Errorf("retrieval params = (%v, %d), want (0.75, 2) for a follow-up",
			f.retriever.lastThreshold, f.retriever.lastCount)
	}
	if f.streamer.lastReq.MaxTokens != 800 {
		t.Errorf("MaxTokens = %d, want 800 for a follow-up", f.streamer.lastReq.MaxTokens)
	}
}

func TestRespond_ClientDisconnect(t *testing.T) {
	f := newFixture(100_000)
	f.streamer.chunks = textChunks("one ", "two ", "three")
	f.sink.failAfter = 1
	ctx := context.Background()

	err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink)
	if err == nil {
		t.Fatal("Respond() error = nil, want send error after client disconnect")
	}
	if len(f.sink.events) != 1 {
		t.Errorf("sink accepted %d events, want 1", len(f.sink.events))
	}
	if _, ok := f.cache.Lookup(ctx, "what is IAM?", ""); ok {
		t.Error("answer cached after client disconnect")
	}
	if _, err := f.store.GetUsage(ctx, "alice", testDay); !store.IsNotFound(err) {
		t.Error("usage recorded after client disconnect")
	}
}

func TestRespond_CancelledStreamNotCached(t *testing.T) {
	f := newFixture(100_000)
	// A cancelled driver may close the channel after its text chunks without
	// delivering a terminal chunk.
	f.streamer.chunks = []completion.Chunk{{Text: "partial "}, {Text: "answer"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink)
	if err == nil {
		t.Fatal("Respond() error = nil for a cancelled request, want error")
	}
	if _, ok := f.cache.Lookup(context.Background(), "what is IAM?", ""); ok {
		t.Error("partial answer cached after cancellation")
	}
	if _, err := f.store.GetUsage(context.Background(), "alice", testDay); !store.IsNotFound(err) {
		t.Error("partial answer billed after cancellation")
	}
}

func TestRespond_EmptyAnswer(t *testing.T) {
	f := newFixture(100_000)
	f.streamer.chunks = []completion.Chunk{{Done: true}}
	ctx := context.Background()

	if err := f.pipeline.Respond(ctx, "alice", userRequest("what is IAM?"), f.sink); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(f.sink.events) != 0 {
		t.Errorf("sink received %d events for an empty completion, want 0", len(f.sink.events))
	}
	if _, ok := f.cache.Lookup(ctx, "what is IAM?", ""); ok {
		t.Error("empty answer was cached")
	}
	if _, err := f.store.GetUsage(ctx, "alice", testDay); !store.IsNotFound(err) {
		t.Error("usage recorded for an empty answer")
	}
}

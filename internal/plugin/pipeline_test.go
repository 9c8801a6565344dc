package plugin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonletto/agentlip/internal/mutate"
	"github.com/leonletto/agentlip/internal/store"
)

func newTestOps(t *testing.T) *mutate.Ops {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return mutate.New(st)
}

// echoLinkifierCmd ignores stdin and prints a fixed linkifier result, like
// a trivial URL-matching plugin would for a message containing one link.
const echoLinkifierCmd = `echo '{"linkifier":[{"kind":"url","span":{"start":0,"end":4},"data":{"href":"http://x"}}]}'`

const emptyLinkifierCmd = `echo '{"linkifier":[]}'`

const echoExtractorCmd = `echo '{"extractor":[{"kind":"task","value_json":{"title":"x"},"dedupe_key":"t1"}]}'`

func TestLinkifierCommitsEnrichmentAndEvent(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(t)
	ch, _, _ := ops.CreateChannel(ctx, "general", "")
	tp, _, _ := ops.CreateTopic(ctx, ch.ID, "t")
	msg, _, _ := ops.CreateMessage(ctx, tp.ID, "a", "hello", 0)

	p := NewPipeline(ops, []Config{{Name: "linkify", Kind: KindLinkifier, Command: echoLinkifierCmd}}, nil)
	ids := p.RunForMessage(ctx, msg.ID)
	if len(ids) != 1 {
		t.Fatalf("expected one message.enriched event, got %d", len(ids))
	}
}

func TestEmptyLinkifierOutputIsLegalNoOp(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(t)
	ch, _, _ := ops.CreateChannel(ctx, "general", "")
	tp, _, _ := ops.CreateTopic(ctx, ch.ID, "t")
	msg, _, _ := ops.CreateMessage(ctx, tp.ID, "a", "hello", 0)

	p := NewPipeline(ops, []Config{{Name: "linkify", Kind: KindLinkifier, Command: emptyLinkifierCmd}}, nil)
	ids := p.RunForMessage(ctx, msg.ID)
	if len(ids) != 0 {
		t.Fatalf("expected no events for empty output, got %d", len(ids))
	}
}

func TestExtractorCommitsAttachmentAndEvent(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(t)
	ch, _, _ := ops.CreateChannel(ctx, "general", "")
	tp, _, _ := ops.CreateTopic(ctx, ch.ID, "t")
	msg, _, _ := ops.CreateMessage(ctx, tp.ID, "a", "do the thing", 0)

	p := NewPipeline(ops, []Config{{Name: "extract", Kind: KindExtractor, Command: echoExtractorCmd}}, nil)
	ids := p.RunForMessage(ctx, msg.ID)
	if len(ids) != 1 {
		t.Fatalf("expected one topic.attachment_added event, got %d", len(ids))
	}
}

// TestStaleVersionRejectsCommit covers S4: a slow plugin's commit is
// rejected once the message has been edited (and even reverted) during
// execution, since version strictly increases.
func TestStaleVersionRejectsCommit(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(t)
	ch, _, _ := ops.CreateChannel(ctx, "general", "")
	tp, _, _ := ops.CreateTopic(ctx, ch.ID, "t")
	msg, _, _ := ops.CreateMessage(ctx, tp.ID, "a", "hello", 0)

	snap := snapshot{MessageID: msg.ID, TopicID: msg.TopicID, ChannelID: msg.ChannelID, ContentRaw: msg.ContentRaw, Version: msg.Version}

	if _, _, err := ops.EditMessage(ctx, msg.ID, "x", nil, 0); err != nil {
		t.Fatalf("edit to x: %v", err)
	}
	if _, _, err := ops.EditMessage(ctx, msg.ID, "hello", nil, 0); err != nil {
		t.Fatalf("edit back to hello: %v", err)
	}

	p := NewPipeline(ops, nil, nil)
	id, ok := p.commitLinkifier(ctx, "linkify", snap, []LinkifierItem{{Kind: "url", Span: Span{Start: 0, End: 1}, Data: []byte(`{}`)}})
	if ok || id != nil {
		t.Fatalf("expected staleness rejection (STALE_VERSION), got id=%v ok=%v", id, ok)
	}
}

func TestCircuitOpenSkipsWorkerSpawn(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(t)
	ch, _, _ := ops.CreateChannel(ctx, "general", "")
	tp, _, _ := ops.CreateTopic(ctx, ch.ID, "t")
	msg, _, _ := ops.CreateMessage(ctx, tp.ID, "a", "hello", 0)

	breaker := NewCircuitBreaker(1, time.Hour)
	breaker.RecordFailure("linkify")

	p := NewPipeline(ops, []Config{{Name: "linkify", Kind: KindLinkifier, Command: echoLinkifierCmd}}, breaker)
	ids := p.RunForMessage(ctx, msg.ID)
	if len(ids) != 0 {
		t.Fatalf("expected circuit-open to skip the run entirely, got %d events", len(ids))
	}
}

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/alxayo/playout-engine/internal/frame"
	"github.com/alxayo/playout-engine/internal/pad"
	"github.com/alxayo/playout-engine/internal/playout"
	"github.com/alxayo/playout-engine/internal/producer"
	"github.com/alxayo/playout-engine/internal/rational"
	"github.com/alxayo/playout-engine/internal/sink"
	"github.com/alxayo/playout-engine/internal/tickgrid"
)

func houseFormat() frame.Format {
	return frame.Format{FPSNum: 30, FPSDen: 1, Width: 16, Height: 16, SampleRate: 48000, Channels: 2, PixFormat: frame.PixelFormatI420}
}

func newTestGrid(t *testing.T) *tickgrid.Grid {
	t.Helper()
	rate, err := rational.NewRate(30, 1)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	return tickgrid.New(rate, 0, 0)
}

type fakeSource struct {
	videos []frame.Video
	audios []frame.Audio
	vi, ai int
}

func newFakeSource(n int) *fakeSource {
	fs := &fakeSource{}
	for i := 0; i < n; i++ {
		fs.videos = append(fs.videos, frame.Video{PTSMicros: int64(i) * 33367, DurationMicros: 33367})
		fs.audios = append(fs.audios, frame.Audio{PTSMicros: int64(i) * 20000, NumSamples: 960})
	}
	return fs
}

func (f *fakeSource) ReadVideo() (frame.Video, bool, error) {
	if f.vi >= len(f.videos) {
		return frame.Video{}, false, nil
	}
	v := f.videos[f.vi]
	f.vi++
	return v, true, nil
}

func (f *fakeSource) ReadAudio() (frame.Audio, bool, error) {
	if f.ai >= len(f.audios) {
		return frame.Audio{}, false, nil
	}
	a := f.audios[f.ai]
	f.ai++
	return a, true, nil
}

func (f *fakeSource) SeekPreciseToMs(ms int64) error { return nil }
func (f *fakeSource) SourceFPS() (int64, int64)      { return 30, 1 }
func (f *fakeSource) Close() error                   { return nil }

var _ producer.Source = (*fakeSource)(nil)

type fakeOutput struct {
	mu     sync.Mutex
	videos []frame.Video
	audios []frame.Audio
}

func (o *fakeOutput) TrySendVideo(v frame.Video) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.videos = append(o.videos, v)
	return true
}

func (o *fakeOutput) TrySendAudio(a frame.Audio) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audios = append(o.audios, a)
	return true
}

func (o *fakeOutput) videoCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.videos)
}

var _ sink.Output = (*fakeOutput)(nil)

func newTestChannel(t *testing.T, opener AssetOpener) *Channel {
	t.Helper()
	format := houseFormat()
	grid := newTestGrid(t)
	padProducer := pad.New(format)
	router := sink.NewRouter(0, nil)
	session := playout.New()
	cfg := Config{RingCapacity: 4, MinPrefeedFrames: 1, SessionID: "sess-1", ChannelID: "chan-1"}
	return New(format, grid, opener, padProducer, router, nil, session, cfg)
}

func admitRaw(t *testing.T, ch *Channel, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ch.AdmitBlock(json.RawMessage(raw)); err != nil {
		t.Fatalf("admit block: %v", err)
	}
}

func TestAdmitBlockRejectsMissingSegments(t *testing.T) {
	ch := newTestChannel(t, func(string, int64) (producer.Source, error) { return nil, fmt.Errorf("unused") })
	raw := json.RawMessage(`{"id":"blk-1","start_utc_ms":0,"end_utc_ms":1000,"segments":[]}`)
	if err := ch.AdmitBlock(raw); err == nil {
		t.Fatalf("expected error admitting a block with no segments")
	}
}

func TestAdmitBlockRejectsBadJSON(t *testing.T) {
	ch := newTestChannel(t, func(string, int64) (producer.Source, error) { return nil, fmt.Errorf("unused") })
	if err := ch.AdmitBlock(json.RawMessage(`not json`)); err == nil {
		t.Fatalf("expected error on malformed JSON")
	}
}

func TestStepWithNoBlockRoutesPad(t *testing.T) {
	ch := newTestChannel(t, func(string, int64) (producer.Source, error) { return nil, fmt.Errorf("unused") })
	out := &fakeOutput{}
	if err := ch.AttachOutput("preview"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	ch.sinkRouter.Attach(out)

	if err := ch.Step(context.Background(), 0); err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.videoCount() != 1 {
		t.Fatalf("expected 1 pad video frame routed, got %d", out.videoCount())
	}
}

func TestStepPopsContentThenSwapsToPad(t *testing.T) {
	src := newFakeSource(50)
	opener := func(uri string, offsetMs int64) (producer.Source, error) { return src, nil }
	ch := newTestChannel(t, opener)
	out := &fakeOutput{}
	ch.sinkRouter.Attach(out)

	admitRaw(t, ch, map[string]interface{}{
		"id": "blk-1", "start_utc_ms": 0, "end_utc_ms": 60000,
		"segments": []map[string]interface{}{
			{"id": "seg-content", "index": 0, "asset_uri": "file://clip.mp4", "duration_ms": 33, "kind": "content"},
			{"id": "seg-pad", "index": 1, "asset_uri": "", "duration_ms": 1000, "kind": "pad"},
		},
	})

	var lastSawSegment string
	for tick := int64(0); tick < 10; tick++ {
		if err := ch.Step(context.Background(), tick); err != nil {
			t.Fatalf("step %d: %v", tick, err)
		}
	}
	out.mu.Lock()
	if len(out.videos) == 0 {
		t.Fatalf("expected at least one video frame routed")
	}
	lastSawSegment = out.videos[len(out.videos)-1].SegmentOriginID
	out.mu.Unlock()

	// After ten ticks at 30fps the single-frame-duration content segment's
	// seam (tick 1) has long passed, so authority should have moved to the
	// pad segment — its own ticks are normal pops that manufacture pad
	// frames with no segment-origin stamp.
	if lastSawSegment != "" {
		t.Fatalf("expected authority to have moved to pad by tick 9, last frame origin = %q", lastSawSegment)
	}
}

func TestAttachDetachOutputRejectsDuplicateAndMissing(t *testing.T) {
	ch := newTestChannel(t, func(string, int64) (producer.Source, error) { return nil, fmt.Errorf("unused") })
	if err := ch.AttachOutput("a"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := ch.AttachOutput("a"); err == nil {
		t.Fatalf("expected error re-attaching the same id")
	}
	if err := ch.DetachOutput("a"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := ch.DetachOutput("a"); err == nil {
		t.Fatalf("expected error detaching an id that is no longer attached")
	}
}

func TestReadyIsFalseUntilMinPrefeedReached(t *testing.T) {
	src := newFakeSource(10)
	opener := func(string, int64) (producer.Source, error) { return src, nil }
	ch := newTestChannel(t, opener)
	ch.cfg.MinPrefeedFrames = 3

	admitRaw(t, ch, map[string]interface{}{
		"id": "blk-1", "start_utc_ms": 0, "end_utc_ms": 60000,
		"segments": []map[string]interface{}{
			{"id": "seg-content", "index": 0, "asset_uri": "file://clip.mp4", "duration_ms": 10000, "kind": "content"},
		},
	})

	if err := ch.Step(context.Background(), 0); err != nil {
		t.Fatalf("step: %v", err)
	}
	if ch.Ready() {
		t.Fatalf("expected not ready after a single pump, which only admits one frame ahead of the pop")
	}
}

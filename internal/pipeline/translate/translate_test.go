package translate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

type fakeBackend struct {
	calls int
	fail  bool
}

func (f *fakeBackend) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("backend down")
	}
	return "[en] " + text, nil
}

func finalSegment(text, lang string) *types.TranscriptSegment {
	return &types.TranscriptSegment{
		ID:       uuid.New(),
		Text:     text,
		Language: lang,
		IsFinal:  true,
	}
}

func TestTranslatesFinalAndKeepsOriginal(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(backend, NewMemoryCache(0), "en", Logger.New(true))

	seg := finalSegment("hola mundo", "es")
	changed, err := tr.TranslateSegment(context.Background(), seg)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !changed {
		t.Fatal("segment not changed")
	}
	if seg.Text != "[en] hola mundo" || seg.OriginalText != "hola mundo" {
		t.Errorf("text=%q original=%q", seg.Text, seg.OriginalText)
	}
	if seg.Language != "en" {
		t.Errorf("language = %q, want en", seg.Language)
	}
}

func TestInterimSegmentsNeverTranslated(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(backend, NewMemoryCache(0), "en", Logger.New(true))

	seg := finalSegment("hola", "es")
	seg.IsFinal = false
	changed, err := tr.TranslateSegment(context.Background(), seg)
	if err != nil || changed || backend.calls != 0 {
		t.Errorf("interim reached backend: changed=%v calls=%d err=%v", changed, backend.calls, err)
	}
}

func TestAlreadyTargetLanguageSkipped(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(backend, NewMemoryCache(0), "en", Logger.New(true))

	for _, lang := range []string{"en", "EN", "en-US"} {
		seg := finalSegment("hello", lang)
		changed, _ := tr.TranslateSegment(context.Background(), seg)
		if changed || backend.calls != 0 {
			t.Errorf("lang %q reached backend", lang)
		}
	}
}

func TestCacheDedupesIdenticalTriples(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(backend, NewMemoryCache(0), "en", Logger.New(true))

	a := finalSegment("hola mundo", "es")
	b := finalSegment("hola mundo", "es")
	if _, err := tr.TranslateSegment(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.TranslateSegment(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
	if b.Text != a.Text {
		t.Errorf("cached result differs: %q vs %q", b.Text, a.Text)
	}
}

func TestBackendFailureLeavesSegmentUntouched(t *testing.T) {
	backend := &fakeBackend{fail: true}
	tr := New(backend, NewMemoryCache(0), "en", Logger.New(true))

	seg := finalSegment("hola", "es")
	changed, err := tr.TranslateSegment(context.Background(), seg)
	if err == nil || changed {
		t.Errorf("want error and no change, got changed=%v err=%v", changed, err)
	}
	if seg.Text != "hola" || seg.OriginalText != "" {
		t.Errorf("segment mutated on failure: %+v", seg)
	}
}

func TestCacheKeyDistinguishesTriples(t *testing.T) {
	keys := map[string]bool{
		CacheKey("a", "es", "en"): true,
		CacheKey("a", "fr", "en"): true,
		CacheKey("a", "es", "de"): true,
		CacheKey("b", "es", "en"): true,
	}
	if len(keys) != 4 {
		t.Errorf("cache keys collide: %d unique of 4", len(keys))
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	c := NewMemoryCache(2)
	c.Set("k1", "v1")
	c.Set("k2", "v2")
	c.Set("k3", "v3")
	if _, ok := c.Get("k1"); ok {
		t.Error("oldest entry not evicted")
	}
	for i := 2; i <= 3; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s evicted early", key)
		}
	}
}

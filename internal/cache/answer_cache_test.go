package cache

import (
	"testing"
	"time"
)

func TestAnswerCacheRoundTrip(t *testing.T) {
	answers := NewAnswerCache(Config{TTL: time.Minute, MaxEntries: 10})
	signature := answers.BuildSignature("tenant-a|acme/widgets", "how does auth work", "gpt-4o-mini")

	if _, hit := answers.Get(signature); hit {
		t.Fatalf("unexpected hit on empty cache")
	}

	answers.Set(signature, Entry{Answer: "via middleware", ModelID: "gpt-4o-mini", Sources: []string{"auth/middleware.go"}})

	entry, hit := answers.Get(signature)
	if !hit {
		t.Fatalf("expected hit after set")
	}
	if entry.Answer != "via middleware" || len(entry.Sources) != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestAnswerCacheSignatureNormalizesButScopesTenants(t *testing.T) {
	answers := NewAnswerCache(Config{})

	a := answers.BuildSignature("tenant-a|acme/widgets", "  How Does Auth Work  ", "gpt-4o-mini")
	b := answers.BuildSignature("tenant-a|acme/widgets", "how does auth work", "gpt-4o-mini")
	if a != b {
		t.Fatalf("case and whitespace should not split the cache")
	}

	other := answers.BuildSignature("tenant-b|acme/widgets", "how does auth work", "gpt-4o-mini")
	if a == other {
		t.Fatalf("tenants must not share cache entries")
	}
}

func TestAnswerCacheInvalidateByScope(t *testing.T) {
	answers := NewAnswerCache(Config{})

	keep := answers.BuildSignature("tenant-a|acme/other", "question", "m")
	drop1 := answers.BuildSignature("tenant-a|acme/widgets", "question one", "m")
	drop2 := answers.BuildSignature("tenant-a|acme/widgets", "question two", "m")
	for _, signature := range []string{keep, drop1, drop2} {
		answers.Set(signature, Entry{Answer: "x"})
	}

	removed := answers.Invalidate("tenant-a|acme/widgets")
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, hit := answers.Get(keep); !hit {
		t.Fatalf("entry outside the scope was dropped")
	}
	if _, hit := answers.Get(drop1); hit {
		t.Fatalf("invalidated entry still served")
	}
}

func TestAnswerCacheInvalidateMatchesMixedCaseScope(t *testing.T) {
	answers := NewAnswerCache(Config{})

	signature := answers.BuildSignature("Tenant-A|Acme/Widgets", "question", "m")
	answers.Set(signature, Entry{Answer: "x"})

	// Invalidation must hit entries written under the same scope even
	// when the caller passes the identifiers in their original case.
	if removed := answers.Invalidate("Tenant-A|Acme/Widgets"); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, hit := answers.Get(signature); hit {
		t.Fatalf("stale entry survived invalidation")
	}
}

func TestAnswerCacheEvictsOldestWhenFull(t *testing.T) {
	answers := NewAnswerCache(Config{TTL: time.Minute, MaxEntries: 2})

	answers.Set("first", Entry{Answer: "1", CreatedAt: time.Now().Add(-2 * time.Second)})
	time.Sleep(2 * time.Millisecond)
	answers.Set("second", Entry{Answer: "2"})
	time.Sleep(2 * time.Millisecond)
	answers.Set("third", Entry{Answer: "3"})

	if _, hit := answers.Get("first"); hit {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, hit := answers.Get("third"); !hit {
		t.Fatalf("newest entry missing")
	}
}

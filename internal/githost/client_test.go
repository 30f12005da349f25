package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		input      string
		wantRepo   string
		wantBranch string
		wantErr    bool
	}{
		{input: "https://github.com/acme/widgets", wantRepo: "acme/widgets"},
		{input: "https://github.com/acme/widgets.git", wantRepo: "acme/widgets"},
		{input: "https://github.com/acme/widgets/tree/develop", wantRepo: "acme/widgets", wantBranch: "develop"},
		{input: "acme/widgets", wantRepo: "acme/widgets"},
		{input: "not a repo", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range cases {
		repo, branch, err := ParseRepoURL(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRepoURL(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRepoURL(%q): %v", tc.input, err)
		}
		if repo != tc.wantRepo || branch != tc.wantBranch {
			t.Fatalf("ParseRepoURL(%q) = (%q, %q), want (%q, %q)",
				tc.input, repo, branch, tc.wantRepo, tc.wantBranch)
		}
	}
}

func TestListChangedArtifactsPaginates(t *testing.T) {
	var commitPages, issuePages int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		switch r.URL.Path {
		case "/repos/acme/widgets/commits":
			page := r.URL.Query().Get("page")
			atomic.AddInt32(&commitPages, 1)
			if page == "1" {
				// Full page forces a second request.
				_, _ = fmt.Fprint(w, commitPage(2))
				return
			}
			_, _ = fmt.Fprint(w, `[]`)
		case "/repos/acme/widgets/issues":
			atomic.AddInt32(&issuePages, 1)
			if r.URL.Query().Get("page") == "1" {
				// Full page forces a second request.
				_, _ = fmt.Fprint(w, `[
					{"number":7,"title":"bug","state":"open","html_url":"u","updated_at":"2026-01-02T00:00:00Z"},
					{"number":8,"title":"feature","state":"open","html_url":"u","updated_at":"2026-01-03T00:00:00Z","pull_request":{}}
				]`)
				return
			}
			_, _ = fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		Token:    "t",
		BaseURL:  server.URL,
		PageSize: 2,
		RPS:      1000,
		Burst:    1000,
	})

	artifacts, err := client.ListChangedArtifacts(context.Background(), "acme/widgets", "main", time.Time{})
	if err != nil {
		t.Fatalf("list artifacts failed: %v", err)
	}
	if atomic.LoadInt32(&commitPages) != 2 {
		t.Fatalf("expected 2 commit pages, got %d", commitPages)
	}
	if atomic.LoadInt32(&issuePages) != 2 {
		t.Fatalf("expected 2 issue pages, got %d", issuePages)
	}

	var commits, issues, pulls int
	for _, artifact := range artifacts {
		switch artifact.Kind {
		case domain.ArtifactCommit:
			commits++
		case domain.ArtifactIssue:
			issues++
		case domain.ArtifactPullRequest:
			pulls++
		}
	}
	if commits != 2 || issues != 1 || pulls != 1 {
		t.Fatalf("unexpected artifact mix: commits=%d issues=%d pulls=%d", commits, issues, pulls)
	}
	if client.RemainingBudget() != 4999 {
		t.Fatalf("expected remaining budget 4999, got %d", client.RemainingBudget())
	}
}

func TestGetJSONRetriesThenReportsUpstreamUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		BaseURL:    server.URL,
		MaxRetries: 2,
		RPS:        1000,
		Burst:      1000,
	})
	_, err := client.GetRepoMetadata(context.Background(), "acme/widgets")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected initial call plus 2 retries, got %d calls", calls)
	}
}

func TestIsTextPath(t *testing.T) {
	textual := []string{"main.go", "src/app.py", "README", "Dockerfile", "docs/guide.md", "go.mod"}
	binary := []string{"logo.png", "dist/app.exe", "media/video.mp4", "noextension"}

	for _, path := range textual {
		if !IsTextPath(path) {
			t.Fatalf("expected %q to be textual", path)
		}
	}
	for _, path := range binary {
		if IsTextPath(path) {
			t.Fatalf("expected %q to be skipped", path)
		}
	}
}

func commitPage(n int) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"sha":"sha%d","html_url":"u","commit":{"message":"change %d","author":{"name":"dev","date":"2026-01-01T00:00:00Z"}}}`, i, i)
	}
	return out + "]"
}

package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func fakeEmbeddingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type datum struct {
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []datum `json:"data"`
		}{}
		for i := range req.Input {
			resp.Data = append(resp.Data, datum{Embedding: []float32{float32(i), 1, 2}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, nil)
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	vectors, err := p.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("len(vectors) = %d, want 2", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Errorf("vector width = %d, want 3", len(vectors[0]))
	}
}

func TestOpenAI_ErrorStatusIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	_, err := p.Embed(context.Background(), []string{"x"})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
}

func TestOpenAI_EmptyInputSkipsCall(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingServer(t, &calls)
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	vectors, err := p.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("vectors=%v err=%v, want nil/nil", vectors, err)
	}
	if calls.Load() != 0 {
		t.Error("empty input must not hit the provider")
	}
}

func TestBatcher_PreservesOrderAcrossBatches(t *testing.T) {
	srv := fakeEmbeddingServer(t, nil)
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	b := NewBatcher(p, 2, 3)

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := b.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("len(vectors) = %d, want %d", len(vectors), len(texts))
	}
	// The fake encodes the within-batch index in the first component; with
	// batch size 2 every even position is 0 and every odd position is 1.
	for i, v := range vectors {
		if int(v[0]) != i%2 {
			t.Errorf("vector %d out of order: first component = %v", i, v[0])
		}
	}
}

func TestBatcher_BatchCount(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingServer(t, &calls)
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	b := NewBatcher(p, 4, 2)

	if _, err := b.EmbedAll(context.Background(), make([]string, 10)); err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3 batches for 10 texts at size 4", calls.Load())
	}
}

func TestBatcher_FailureFailsWholeCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAI("test-key", "text-embedding-3-small", srv.URL)
	b := NewBatcher(p, 2, 2)

	if _, err := b.EmbedAll(context.Background(), []string{"a", "b", "c"}); err == nil {
		t.Fatal("expected error when a batch fails")
	}
}

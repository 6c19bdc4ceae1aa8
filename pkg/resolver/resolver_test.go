package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/bicat/internal/testutil"
	"github.com/Sternrassler/bicat/pkg/client"
)

func newTestResolver(t *testing.T) (*Bilibili, *testutil.MockBilibili) {
	t.Helper()

	mock := testutil.NewMockBilibili()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	return NewBilibili(c, DefaultOptions()), mock
}

func TestResolve(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.AddItem("BV1abc", testutil.MockItem{Title: "Song", Owner: "Singer", CID: 77})

	target, err := r.Resolve(context.Background(), "BV1abc")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := Target{
		Item:      "BV1abc",
		Title:     "Song",
		Owner:     "Singer",
		SourceURL: mock.StreamURL("BV1abc"),
		CID:       77,
	}
	if target != want {
		t.Errorf("Resolve() = %+v, want %+v", target, want)
	}

	if mock.RequestCount(testutil.PathView) != 1 || mock.RequestCount(testutil.PathPlayURL) != 1 {
		t.Errorf("expected one view and one playurl request, got %d/%d",
			mock.RequestCount(testutil.PathView), mock.RequestCount(testutil.PathPlayURL))
	}
	if got := mock.LastRequestHeader().Get("Referer"); got != client.DefaultReferer {
		t.Errorf("Referer = %q, want %q", got, client.DefaultReferer)
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(m *testutil.MockBilibili)
		wantKind Kind
	}{
		{
			name:     "unknown item",
			setup:    func(m *testutil.MockBilibili) {},
			wantKind: KindNotFound,
		},
		{
			name: "no audio stream",
			setup: func(m *testutil.MockBilibili) {
				m.AddItem("BV1x", testutil.MockItem{Title: "t", Owner: "o", CID: 1, NoAudio: true})
			},
			wantKind: KindNotFound,
		},
		{
			name: "view returns garbage",
			setup: func(m *testutil.MockBilibili) {
				m.SetResponse(testutil.PathView, testutil.MockResponse{StatusCode: http.StatusOK, Body: "<html>"})
			},
			wantKind: KindParse,
		},
		{
			name: "view server error",
			setup: func(m *testutil.MockBilibili) {
				m.SetResponse(testutil.PathView, testutil.MockResponse{StatusCode: http.StatusBadGateway})
			},
			wantKind: KindNetwork,
		},
		{
			name: "playurl server error",
			setup: func(m *testutil.MockBilibili) {
				m.AddItem("BV1x", testutil.MockItem{Title: "t", Owner: "o", CID: 1})
				m.SetResponse(testutil.PathPlayURL, testutil.MockResponse{StatusCode: http.StatusInternalServerError})
			},
			wantKind: KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := newTestResolver(t)
			tt.setup(mock)

			_, err := r.Resolve(context.Background(), "BV1x")
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var resErr *Error
			if !errors.As(err, &resErr) {
				t.Fatalf("expected *Error, got %T: %v", err, err)
			}
			if resErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s (err: %v)", resErr.Kind, tt.wantKind, err)
			}
			if resErr.Item != "BV1x" {
				t.Errorf("Item = %q, want BV1x", resErr.Item)
			}
		})
	}
}

func TestListCollection(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetCollection("1052622027", []string{"BV1a", "BV1b", "BV1c"})

	items, err := r.ListCollection(context.Background(), "1052622027")
	if err != nil {
		t.Fatalf("ListCollection() error = %v", err)
	}

	want := []Item{"BV1a", "BV1b", "BV1c"}
	if len(items) != len(want) {
		t.Fatalf("ListCollection() = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("items[%d] = %q, want %q", i, items[i], want[i])
		}
	}
}

func TestListCollection_Empty(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.SetCollection("42", nil)

	items, err := r.ListCollection(context.Background(), "42")
	if err != nil {
		t.Fatalf("ListCollection() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("ListCollection() = %v, want empty", items)
	}
}

func TestListCollection_MissingData(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.ListCollection(context.Background(), "unknown")
	if !errors.Is(err, ErrDataFetch) {
		t.Fatalf("expected ErrDataFetch, got %v", err)
	}

	var resErr *Error
	if !errors.As(err, &resErr) || resErr.Kind != KindParse {
		t.Errorf("expected *Error with KindParse, got %v", err)
	}
}

// recordingAPI is a JSONGetter that also records cache invalidations.
type recordingAPI struct {
	endpoints []string
	queries   []url.Values
	err       error
}

func (r *recordingAPI) GetJSON(ctx context.Context, endpoint string, query url.Values, ttl time.Duration, out any) error {
	return errors.New("not used")
}

func (r *recordingAPI) Invalidate(ctx context.Context, endpoint string, query url.Values) error {
	r.endpoints = append(r.endpoints, endpoint)
	r.queries = append(r.queries, query)
	return r.err
}

// plainAPI has no Invalidate method.
type plainAPI struct{}

func (plainAPI) GetJSON(ctx context.Context, endpoint string, query url.Values, ttl time.Duration, out any) error {
	return nil
}

func TestForget(t *testing.T) {
	api := &recordingAPI{}
	r := NewBilibili(api, DefaultOptions())

	target := Target{Item: "BV1old", CID: 42}
	if err := r.Forget(context.Background(), target); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}

	if len(api.endpoints) != 1 || api.endpoints[0] != EndpointPlayURL {
		t.Fatalf("invalidated endpoints = %v, want [%s]", api.endpoints, EndpointPlayURL)
	}
	q := api.queries[0]
	if q.Get("bvid") != "BV1old" || q.Get("cid") != "42" || q.Get("fnval") != "16" {
		t.Errorf("invalidated query = %v", q)
	}
}

func TestForget_PropagatesError(t *testing.T) {
	api := &recordingAPI{err: errors.New("redis down")}
	r := NewBilibili(api, DefaultOptions())

	if err := r.Forget(context.Background(), Target{Item: "BV1", CID: 1}); err == nil {
		t.Error("Forget() should return the invalidation error")
	}
}

func TestForget_NoOp(t *testing.T) {
	uncached := &recordingAPI{}
	r := NewBilibili(uncached, Options{ViewTTL: DefaultViewTTL})
	if err := r.Forget(context.Background(), Target{Item: "BV1", CID: 1}); err != nil {
		t.Errorf("Forget() error = %v", err)
	}
	if len(uncached.endpoints) != 0 {
		t.Errorf("Forget() invalidated %v with play url caching disabled", uncached.endpoints)
	}

	r = NewBilibili(plainAPI{}, DefaultOptions())
	if err := r.Forget(context.Background(), Target{Item: "BV1", CID: 1}); err != nil {
		t.Errorf("Forget() without an Invalidator error = %v", err)
	}
}

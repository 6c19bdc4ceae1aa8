package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"path only", Key{Path: "/x/web-interface/view"}, "bicat:x/web-interface/view"},
		{
			"single param",
			Key{Path: "/x/web-interface/view", Query: url.Values{"bvid": {"BV1xx411c7mD"}}},
			"bicat:x/web-interface/view:bvid=BV1xx411c7mD",
		},
		{
			"params sorted by name",
			Key{Path: "/x/player/playurl", Query: url.Values{"fnval": {"16"}, "bvid": {"BV1xx411c7mD"}, "cid": {"123"}}},
			"bicat:x/player/playurl:bvid=BV1xx411c7mD:cid=123:fnval=16",
		},
		{"first value wins", Key{Path: "/a", Query: url.Values{"k": {"1", "2"}}}, "bicat:a:k=1"},
		{"zero key", Key{}, "bicat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_SlashesIgnored(t *testing.T) {
	a := Key{Path: "/x/player/playurl", Query: url.Values{"cid": {"1"}, "bvid": {"BV1"}}}
	b := Key{Path: "x/player/playurl/", Query: url.Values{"bvid": {"BV1"}, "cid": {"1"}}}

	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

func TestKeyFromURL_IgnoresHost(t *testing.T) {
	prod, _ := url.Parse("https://api.bilibili.com/x/player/playurl?fnval=16&bvid=BV1&cid=42")
	local, _ := url.Parse("http://127.0.0.1:9999/x/player/playurl?cid=42&bvid=BV1&fnval=16")

	want := "bicat:x/player/playurl:bvid=BV1:cid=42:fnval=16"
	if got := KeyFromURL(prod).String(); got != want {
		t.Errorf("KeyFromURL(prod) = %q, want %q", got, want)
	}
	if KeyFromURL(local).String() != want {
		t.Errorf("KeyFromURL(local) = %q, want %q", KeyFromURL(local), want)
	}
}

// Package resolver turns opaque item identifiers (BVIDs) into download
// targets by querying the Bilibili web API.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/bicat/pkg/logging"
)

// Item is an opaque identifier of one remote media object.
type Item string

// Target is everything needed to download and name one Item.
type Target struct {
	Item      Item
	Title     string
	Owner     string
	SourceURL string

	// CID is the Bilibili page id the stream URL was resolved for.
	CID int64
}

// Resolver resolves an Item into a Target. Implementations must be safe
// for concurrent use and have no filesystem effects.
type Resolver interface {
	Resolve(ctx context.Context, item Item) (Target, error)
}

// Lister expands a collection identifier into its items.
type Lister interface {
	ListCollection(ctx context.Context, mediaID string) ([]Item, error)
}

// API endpoints.
const (
	EndpointView       = "/x/web-interface/view"
	EndpointPlayURL    = "/x/player/playurl"
	EndpointCollection = "/x/v3/fav/resource/ids"
)

// Default cache TTLs. Stream URLs are signed and expire, so play URL
// lookups are kept for a shorter time.
const (
	DefaultViewTTL    = time.Hour
	DefaultPlayURLTTL = 20 * time.Minute
)

// JSONGetter performs a decoded API lookup. *client.Client implements it.
type JSONGetter interface {
	GetJSON(ctx context.Context, endpoint string, query url.Values, ttl time.Duration, out any) error
}

// Invalidator drops a cached lookup. *client.Client implements it; a
// JSONGetter without it is treated as uncached.
type Invalidator interface {
	Invalidate(ctx context.Context, endpoint string, query url.Values) error
}

// Options configures a Bilibili resolver.
type Options struct {
	// ViewTTL and PlayURLTTL control caching of lookups. Zero disables
	// caching for that endpoint.
	ViewTTL    time.Duration
	PlayURLTTL time.Duration
}

// DefaultOptions returns the default resolver options.
func DefaultOptions() Options {
	return Options{
		ViewTTL:    DefaultViewTTL,
		PlayURLTTL: DefaultPlayURLTTL,
	}
}

// Bilibili resolves items against the Bilibili web API.
type Bilibili struct {
	api    JSONGetter
	opts   Options
	logger zerolog.Logger
}

// NewBilibili creates a resolver backed by api.
func NewBilibili(api JSONGetter, opts Options) *Bilibili {
	return &Bilibili{
		api:    api,
		opts:   opts,
		logger: logging.NewLogger("resolver"),
	}
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type viewResponse struct {
	envelope
	Data *struct {
		Title string `json:"title"`
		CID   int64  `json:"cid"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"data"`
}

type playURLResponse struct {
	envelope
	Data *struct {
		Dash *struct {
			Audio []struct {
				BaseURL string `json:"baseUrl"`
			} `json:"audio"`
		} `json:"dash"`
	} `json:"data"`
}

type collectionResponse struct {
	envelope
	Data []struct {
		BVID string `json:"bv_id"`
	} `json:"data"`
}

// Resolve looks up title, owner and the first audio stream of item.
func (b *Bilibili) Resolve(ctx context.Context, item Item) (Target, error) {
	var view viewResponse
	err := b.api.GetJSON(ctx, EndpointView, url.Values{"bvid": {string(item)}}, b.opts.ViewTTL, &view)
	if err != nil {
		return Target{}, &Error{Item: item, Kind: classify(err), Err: err}
	}
	if view.Code != 0 {
		return Target{}, &Error{Item: item, Kind: KindNotFound, Err: fmt.Errorf("view: api code %d: %s", view.Code, view.Message)}
	}
	if view.Data == nil {
		return Target{}, &Error{Item: item, Kind: KindParse, Err: fmt.Errorf("view: missing data")}
	}

	query := playURLQuery(item, view.Data.CID)
	var play playURLResponse
	if err := b.api.GetJSON(ctx, EndpointPlayURL, query, b.opts.PlayURLTTL, &play); err != nil {
		return Target{}, &Error{Item: item, Kind: classify(err), Err: err}
	}
	if play.Code != 0 {
		return Target{}, &Error{Item: item, Kind: KindNotFound, Err: fmt.Errorf("playurl: api code %d: %s", play.Code, play.Message)}
	}
	if play.Data == nil || play.Data.Dash == nil || len(play.Data.Dash.Audio) == 0 || play.Data.Dash.Audio[0].BaseURL == "" {
		return Target{}, &Error{Item: item, Kind: KindNotFound, Err: fmt.Errorf("playurl: no audio stream")}
	}

	target := Target{
		Item:      item,
		Title:     view.Data.Title,
		Owner:     view.Data.Owner.Name,
		SourceURL: play.Data.Dash.Audio[0].BaseURL,
		CID:       view.Data.CID,
	}

	b.logger.Debug().
		Str("item", string(item)).
		Str("title", target.Title).
		Str("owner", target.Owner).
		Msg("Item resolved")

	return target, nil
}

// Forget drops the cached play URL lookup of t so the next Resolve gets a
// freshly signed stream URL. It is a no-op when lookups are not cached.
func (b *Bilibili) Forget(ctx context.Context, t Target) error {
	inv, ok := b.api.(Invalidator)
	if !ok || b.opts.PlayURLTTL <= 0 {
		return nil
	}
	if err := inv.Invalidate(ctx, EndpointPlayURL, playURLQuery(t.Item, t.CID)); err != nil {
		return fmt.Errorf("forget play url of %s: %w", t.Item, err)
	}
	b.logger.Debug().Str("item", string(t.Item)).Msg("Cached play url dropped")
	return nil
}

func playURLQuery(item Item, cid int64) url.Values {
	return url.Values{
		"fnval": {"16"},
		"bvid":  {string(item)},
		"cid":   {strconv.FormatInt(cid, 10)},
	}
}

// ListCollection returns the items of a favourites collection. A response
// without a data array is ErrDataFetch; an empty array yields no items.
func (b *Bilibili) ListCollection(ctx context.Context, mediaID string) ([]Item, error) {
	query := url.Values{
		"media_id": {mediaID},
		"platform": {"web"},
	}

	var resp collectionResponse
	if err := b.api.GetJSON(ctx, EndpointCollection, query, 0, &resp); err != nil {
		return nil, &Error{Kind: classify(err), Err: err}
	}
	if resp.Data == nil {
		return nil, &Error{Kind: KindParse, Err: fmt.Errorf("media %s: %w", mediaID, ErrDataFetch)}
	}

	items := make([]Item, 0, len(resp.Data))
	for _, entry := range resp.Data {
		if entry.BVID == "" {
			continue
		}
		items = append(items, Item(entry.BVID))
	}

	b.logger.Info().
		Str("media_id", mediaID).
		Int("items", len(items)).
		Msg("Collection listed")

	return items, nil
}

package resolver

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/bicat/pkg/client"
)

// ErrDataFetch is returned when a collection listing carries no data array.
var ErrDataFetch = errors.New("collection response has no data")

// Kind classifies resolution failures.
type Kind string

const (
	// KindNetwork covers transport failures and non-2xx statuses.
	KindNetwork Kind = "network"

	// KindParse covers undecodable or structurally invalid responses.
	KindParse Kind = "parse"

	// KindNotFound covers API-level rejections and items without audio.
	KindNotFound Kind = "not_found"
)

// Error is a failure to turn an Item into a Target.
type Error struct {
	Item Item
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("resolve (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %s (%s): %v", e.Item, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a client error onto a resolution kind.
func classify(err error) Kind {
	if errors.Is(err, client.ErrDecode) {
		return KindParse
	}
	return KindNetwork
}

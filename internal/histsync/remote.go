package histsync

import "context"

// Remote is the history API. Paths are server-relative and may carry a
// query string. Implementations decode JSON replies into out and leave out
// untouched when the reply is empty.
type Remote interface {
	Get(ctx context.Context, path string, out any) error
	Send(ctx context.Context, method, path string, body, out any) error
}

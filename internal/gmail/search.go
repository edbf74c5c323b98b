package gmail

import (
	"context"
	"fmt"
)

const searchPageSize = 500

// SearchIDs drives the paginated list endpoint for query until the
// provider signals no further pages, accumulating every returned message
// reference. Bodies are never fetched here.
//
// A query matching nothing yields an empty slice, not an error. Transport
// errors propagate unchanged; retry policy belongs to the caller.
func SearchIDs(ctx context.Context, c Client, userID, query string) ([]MessageRef, error) {
	var refs []MessageRef
	pageToken := ""
	for {
		page, err := c.ListMessages(ctx, userID, query, pageToken, searchPageSize)
		if err != nil {
			return nil, fmt.Errorf("list messages %q: %w", query, err)
		}
		refs = append(refs, page.Refs...)
		if page.NextPageToken == "" {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}

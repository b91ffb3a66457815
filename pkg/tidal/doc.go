// Package tidal provides a client for the Tidal API v2.
//
// This package implements the subset of the Tidal API the sync and import
// engine needs: single-item catalogue lookups, free-text search, paginated
// listening history, and OAuth token refresh. It is designed to be usable
// as a standalone SDK.
//
// Example usage:
//
//	import "github.com/jfmyers9/tidewatch/pkg/tidal"
//
//	client, err := tidal.NewClient(tidal.Config{
//	    ClientID:     "your-client-id",
//	    ClientSecret: "your-client-secret",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	track, err := client.Catalog().GetTrack(ctx, "251380837")
package tidal

/*
Package qbt provides a resilient, authenticated client for the qBittorrent Web API.

Highlights:
  - One login at a time: concurrent callers that find the session expired share a single login
  - Bounded retries with exponential backoff, jitter and Retry-After support
  - Structured errors (*ClientError) that work with errors.Is and errors.As
  - Endpoints gated by the server Web API version, checked before any network call
  - zap logging and Prometheus metrics, both optional

Quick start:

	import (
	    "context"
	    "log"

	    qbt "github.com/jfxdev/qbtclient"
	)

	func main() {
	    client, err := qbt.New(qbt.Config{
	        BaseURL:  "http://localhost:8080",
	        Username: "admin",
	        Password: "password",
	    })
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer client.Close()

	    ctx := context.Background()
	    if _, err := client.Connect(ctx); err != nil {
	        log.Fatal(err)
	    }
	    _, _ = client.ListTorrents(ctx, qbt.ListOptions{})
	}

Any endpoint without a dedicated method can be called through Client.Execute:

	body, err := client.Execute(ctx, qbt.Get("torrents/trackers", url.Values{"hash": {hash}}))
*/
package qbt

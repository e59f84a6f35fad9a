package qbt_test

import (
	"context"
	"errors"
	"fmt"
	"os"

	qbt "github.com/jfxdev/qbtclient"
)

func ExampleClient_ListTorrents() {
	if os.Getenv("QBT_EXAMPLE_LIVE") == "" {
		fmt.Println("skipped")
		// Output: skipped
		return
	}

	cfg, _ := qbt.LoadConfig("")
	client, _ := qbt.New(cfg)
	defer client.Close()

	list, _ := client.ListTorrents(context.Background(), qbt.ListOptions{})
	fmt.Printf("torrents: %d\n", len(list))
}

func ExampleClient_AddTorrentLink() {
	if os.Getenv("QBT_EXAMPLE_LIVE") == "" {
		fmt.Println("skipped")
		// Output: skipped
		return
	}

	client, _ := qbt.New(qbt.Config{BaseURL: "http://localhost:8080"})
	defer client.Close()

	_ = client.AddTorrentLink(context.Background(), qbt.TorrentConfig{
		MagnetURI:    "magnet:?xt=urn:btih:example",
		Directory:    "/downloads",
		Category:     "movies",
		Paused:       true,
		SkipChecking: true,
	})
}

func ExampleCheckSupported() {
	required := qbt.Version(2, 11, 0)
	err := qbt.CheckSupported(&required, qbt.Version(2, 8, 3), "torrents/start")

	fmt.Println(errors.Is(err, qbt.ErrUnsupportedVersion))
	fmt.Println(err)
	// Output:
	// true
	// UNSUPPORTED_VERSION [torrents/start]: requires Web API 2.11.0, server provides 2.8.3
}

func ExampleBackoffPolicy_ComputeDelay() {
	policy := qbt.NewBackoffPolicy(qbt.DefaultRetryBackoff, 0)

	for attempt := 1; attempt <= 3; attempt++ {
		fmt.Println(policy.ComputeDelay(attempt, nil))
	}
	// Output:
	// 500ms
	// 1s
	// 2s
}

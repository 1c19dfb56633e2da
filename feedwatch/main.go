package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/abex-COM/abbabiyo-realtime/feedsync"
)

const Version = "0.1.0"

const DefaultApiUrl = "https://api.abbabiyo.app"
const DefaultRelayUrl = "wss://relay.abbabiyo.app/ws"

func main() {
	usage := fmt.Sprintf(
		`Feed watcher.

Connects to a feed relay as one user, keeps a synchronized local feed
projection, and prints every change. Mutations can be issued on stdin:

    post <text>
    like <post_id>
    comment <post_id> <text>
    remove <post_id>
    comments <post_id>

The default urls are:
    api_url: %s
    relay_url: %s

Usage:
    feedwatch watch [--jwt=<jwt>]
        [--api_url=<api_url>]
        [--relay_url=<relay_url>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --relay_url=<relay_url>
    --jwt=<jwt>              Platform issued jwt. Prompted when omitted.`,
		DefaultApiUrl,
		DefaultRelayUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func watch(opts docopt.Opts) {
	var apiUrl string
	if apiUrlAny := opts["--api_url"]; apiUrlAny != nil {
		apiUrl = apiUrlAny.(string)
	} else {
		apiUrl = DefaultApiUrl
	}

	var relayUrl string
	if relayUrlAny := opts["--relay_url"]; relayUrlAny != nil {
		relayUrl = relayUrlAny.(string)
	} else {
		relayUrl = DefaultRelayUrl
	}

	var byJwt string
	if jwtAny := opts["--jwt"]; jwtAny != nil {
		byJwt = jwtAny.(string)
	} else {
		fmt.Print("Enter jwt: ")
		jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		byJwt = string(jwtBytes)
		fmt.Printf("\n")
	}

	auth := &feedsync.ClientAuth{
		ByJwt:      byJwt,
		AppVersion: Version,
	}
	userId, err := auth.UserId()
	if err != nil {
		panic(err)
	}

	cancelCtx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
	)
	defer cancel()

	fmt.Printf("user_id: %s\n", userId)

	api := feedsync.NewFeedApiWithContext(cancelCtx, apiUrl)
	api.SetByJwt(byJwt)

	cache := feedsync.NewCacheStore()
	cache.AddListener(func() {
		feed := cache.Feed()
		fmt.Printf("feed (%d posts):\n", len(feed))
		for _, post := range feed {
			fmt.Printf(
				"  %s %s likes=%d comments=%d %q\n",
				post.CreatedAt.Format("2006-01-02 15:04:05"),
				post.PostId,
				post.LikeCount(),
				len(post.Comments),
				post.Text,
			)
		}
	})

	// seed the cache before the push channel starts filling gaps
	feedResult, err := api.GetFeedSync()
	if err != nil {
		panic(err)
	}
	if feedResult.Error != nil {
		panic(feedResult.Error.Message)
	}
	cache.ReplaceAll(feedResult.Posts)

	bridge := feedsync.NewSocketBridgeWithDefaults(cancelCtx, relayUrl, auth, api, cache)
	bridge.AddStateChangeCallback(func(state feedsync.BridgeState) {
		fmt.Printf("bridge: %s\n", state)
	})

	gateway := feedsync.NewMutationGateway(api, cache, userId)
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := dispatch(gateway, scanner.Text()); err != nil {
				fmt.Printf("error: %s\n", err)
			}
		}
	}()

	select {
	case <-cancelCtx.Done():
	}

	bridge.Close()
	api.Close()

	os.Exit(0)
}

// dispatch runs one stdin command against the gateway. The cache listener
// prints the resulting feed, so success needs no output of its own.
func dispatch(gateway *feedsync.MutationGateway, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	parsePostId := func() (feedsync.Id, error) {
		if len(fields) < 2 {
			return feedsync.Id{}, fmt.Errorf("usage: %s <post_id>", fields[0])
		}
		return feedsync.ParseId(fields[1])
	}

	switch fields[0] {
	case "post":
		_, err := gateway.CreatePost(strings.Join(fields[1:], " "), "")
		return err
	case "like":
		postId, err := parsePostId()
		if err != nil {
			return err
		}
		_, err = gateway.ToggleLike(postId)
		return err
	case "comment":
		postId, err := parsePostId()
		if err != nil {
			return err
		}
		_, err = gateway.CreateComment(postId, strings.Join(fields[2:], " "))
		return err
	case "remove":
		postId, err := parsePostId()
		if err != nil {
			return err
		}
		return gateway.RemovePost(postId)
	case "comments":
		postId, err := parsePostId()
		if err != nil {
			return err
		}
		_, err = gateway.RefreshComments(postId)
		return err
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

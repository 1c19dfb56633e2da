package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/golang/glog"

	"github.com/abex-COM/abbabiyo-realtime/feedsync"
)

const Version = "0.1.0"

const EmitSecretHeader = "X-Emit-Secret"

func main() {
	usage := `Feed relay.

Accepts client websockets on /ws and completed mutations from the platform
api on /emit, fanning each mutation out to the connected clients.

Usage:
    relay serve [--port=<port>] [--emit_secret=<emit_secret>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --emit_secret=<emit_secret>    Shared secret required on /emit.
    -p --port=<port>               Listen port [default: 8080].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	var emitSecret string
	if emitSecretAny := opts["--emit_secret"]; emitSecretAny != nil {
		emitSecret = emitSecretAny.(string)
	}

	cancelCtx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
	)
	defer cancel()

	registry := feedsync.NewConnectionRegistry()
	broadcaster := feedsync.NewEventBroadcaster(registry)
	feedServer := feedsync.NewFeedServerWithDefaults(cancelCtx, registry)

	mux := http.NewServeMux()
	mux.Handle("/ws", feedServer)
	mux.HandleFunc("/emit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if emitSecret != "" && r.Header.Get(EmitSecretHeader) != emitSecret {
			http.Error(w, "bad emit secret", http.StatusForbidden)
			return
		}
		frame, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		event, err := feedsync.DecodeFeedEvent(frame)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// fire and forget. the emitter never waits on fan out
		go broadcaster.Broadcast(event)
		w.WriteHeader(http.StatusOK)
	})

	relayServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	fmt.Printf("relay %s on *:%d\n", Version, port)

	go func() {
		defer cancel()
		err := relayServer.ListenAndServe()
		if err != nil {
			glog.Infof("[relay]serve error = %s\n", err)
		}
	}()

	select {
	case <-cancelCtx.Done():
	}

	relayServer.Shutdown(context.Background())
	feedServer.Close()

	os.Exit(0)
}

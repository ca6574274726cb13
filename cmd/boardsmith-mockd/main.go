package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/boardsmith/tui/internal/mockd"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "Listen address")
	tick := flag.Duration("tick", 250*time.Millisecond, "Delay between simulated log lines")
	token := flag.String("token", "", "Require this bearer token on REST endpoints")
	flag.Parse()

	store := mockd.NewStore()
	broadcaster := mockd.NewBroadcaster(store)
	sim := mockd.NewSimulator(store, broadcaster, *tick)
	srv := mockd.NewServer(store, broadcaster, sim, *token)

	go sim.Start(context.Background())

	if err := mockd.ListenAndServe(*addr, srv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alimasry/go-collab-client/client"
	"github.com/alimasry/go-collab-client/store"
	"github.com/alimasry/go-collab-client/transport"
)

func main() {
	var (
		addr      = flag.String("addr", "ws://localhost:8080/ws", "collaboration server URL")
		docID     = flag.String("doc", "scratch", "document to open")
		userID    = flag.String("user", "", "user id (random if empty)")
		snapshots = flag.String("snapshots", "", "path to a local snapshot database (disabled if empty)")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *userID == "" {
		*userID = uuid.NewString()[:8]
	}

	var snaps store.SnapshotStore
	if *snapshots != "" {
		bolt, err := store.NewBoltStore(*snapshots)
		if err != nil {
			logger.Fatal().Err(err).Msg("could not open snapshot store")
		}
		defer bolt.Close()
		cached := store.NewCachedStore(bolt, 5*time.Second, logger)
		defer cached.Close()
		snaps = cached
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("could not connect")
	}
	ch := transport.NewWSChannel(conn, logger)
	defer ch.Close()

	dispatcher := client.NewDispatcher(logger)
	engine := client.NewEngine(client.Config{UserID: *userID, Logger: logger, Snapshots: snaps})
	engine.Attach(ch, dispatcher)
	defer engine.Close()

	engine.OnUpdate(func(ev client.UpdateEvent) {
		if ev.Remote {
			fmt.Printf("-- %s --\n%s\n", ev.DocumentID, ev.Content)
		}
	})
	engine.OnSync(func(ev client.SyncEvent) {
		fmt.Printf("-- %s synced at v%d --\n%s\n", ev.DocumentID, ev.Version, ev.Content)
	})

	engine.OpenDocument(*docID, "")
	logger.Info().Str("doc", *docID).Str("user", *userID).Msg("connected, type to append lines")

	// Each stdin line is appended to the end of the document.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			content := engine.Content(*docID)
			if err := engine.Insert(*docID, scanner.Text()+"\n", len(content)); err != nil {
				logger.Warn().Err(err).Msg("insert failed")
			}
		}
	}()

	if err := ch.ReadLoop(dispatcher); err != nil {
		logger.Error().Err(err).Msg("connection lost")
		os.Exit(1)
	}
	logger.Info().Msg("connection closed")
}

// GhostText CLI - terminal client for hidden channels.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/channel"
	"github.com/ghosttext/ghosttext/internal/crypto"
	"github.com/ghosttext/ghosttext/internal/disguise"
	"github.com/ghosttext/ghosttext/internal/localstate"
	"github.com/ghosttext/ghosttext/internal/presence"
	"github.com/ghosttext/ghosttext/internal/session"
	"github.com/ghosttext/ghosttext/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	local := localstate.NewFile("")
	cmd := os.Args[1]

	switch cmd {
	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: ghosttext login <document-name> <access-phrase> [user]")
			os.Exit(1)
		}
		channelID, err := channel.Derive(os.Args[2], os.Args[3])
		exitOnError(err)

		user := ""
		if len(os.Args) > 4 {
			user = os.Args[4]
		}
		if user == "" {
			user = uuid.NewString()[:8]
		}

		err = local.Save(&localstate.State{
			SessionKey:     os.Args[3],
			ChannelID:      channelID,
			UserIdentifier: user,
		})
		exitOnError(err)

		// Record the channel in the registry, the way a new document gets
		// its row on creation. Re-login to an existing channel just bumps
		// its activity.
		if reg := openRegistry(logger); reg != nil {
			if _, err := reg.CreateChannel(context.Background(), channelID, user); err != nil {
				logger.Warn().Err(err).Msg("channel registration failed")
			}
			reg.Close()
		}
		fmt.Printf("Logged in as %s on channel %s\n", user, channelID[:8])

	case "send":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: ghosttext send <message>")
			os.Exit(1)
		}
		st, sess := openSession(logger, local)
		defer st.Close()
		defer sess.Close()

		// Send is only valid once the session is live.
		currentMessages(sess)
		if !sess.Send(context.Background(), strings.Join(os.Args[2:], " ")) {
			fmt.Fprintln(os.Stderr, "Send failed. Try again.")
			os.Exit(1)
		}
		fmt.Println("Sent.")

	case "read":
		gate := &disguise.Gate{}
		if len(os.Args) > 2 && os.Args[2] == "reveal" {
			gate.Toggle()
		}
		st, sess := openSession(logger, local)
		defer st.Close()
		defer sess.Close()

		msgs := currentMessages(sess)
		for _, msg := range msgs {
			printMessage(msg, gate)
		}
		sess.MarkSeen()

	case "watch":
		gate := &disguise.Gate{}
		if len(os.Args) > 2 && os.Args[2] == "reveal" {
			gate.Toggle()
		}
		watch(logger, local, gate)

	case "who":
		state := loadState(local)
		st := openStore(logger)
		defer st.Close()

		users, cancel, err := presence.Observe(context.Background(), st, state.ChannelID)
		exitOnError(err)
		defer cancel()

		select {
		case online := <-users:
			fmt.Printf("%d online\n", len(online))
			for _, user := range online {
				fmt.Printf("  %s\n", user)
			}
		case <-time.After(5 * time.Second):
			fmt.Fprintln(os.Stderr, "Timed out reading presence.")
			os.Exit(1)
		}

	case "clear":
		fmt.Print("This deletes every message in the channel. Type 'yes' to confirm: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return
		}

		st, sess := openSession(logger, local)
		defer st.Close()
		defer sess.Close()

		currentMessages(sess)
		if !sess.Clear(context.Background()) {
			fmt.Fprintln(os.Stderr, "Clear failed. Try again.")
			os.Exit(1)
		}
		fmt.Println("Channel cleared.")

	case "logout":
		exitOnError(local.Clear())
		fmt.Println("Logged out. Session state wiped.")

	default:
		usage()
		os.Exit(1)
	}
}

// watch streams the channel until interrupted, holding a presence record
// for the duration.
func watch(logger zerolog.Logger, local *localstate.File, gate *disguise.Gate) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := loadState(local)
	st, sess := openSession(logger, local)
	defer st.Close()

	tracker := presence.NewTracker(st, state.ChannelID, state.UserIdentifier,
		presence.WithLogger(logger),
		presence.WithHeartbeat(30*time.Second))
	if err := tracker.Register(ctx); err != nil {
		logger.Warn().Err(err).Msg("presence registration failed")
	}

	updates, err := sess.Subscribe(ctx)
	exitOnError(err)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	seen := 0
	for {
		select {
		case msgs, ok := <-updates:
			if !ok {
				return
			}
			for _, msg := range msgs[min(seen, len(msgs)):] {
				printMessage(msg, gate)
			}
			seen = len(msgs)
			sess.MarkSeen()
		case <-quit:
			tracker.Deregister(context.Background())
			sess.Close()
			return
		}
	}
}

// openStore connects to the shared store from GHOSTTEXT_REDIS.
func openStore(logger zerolog.Logger) store.Store {
	redisURL := os.Getenv("GHOSTTEXT_REDIS")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	st, err := store.NewRedisStore(context.Background(), redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("store connection failed")
	}
	return st
}

func loadState(local *localstate.File) *localstate.State {
	state, err := local.Load()
	exitOnError(err)
	if state == nil {
		fmt.Fprintln(os.Stderr, "No session. Run: ghosttext login <document-name> <access-phrase>")
		os.Exit(1)
	}
	return state
}

// openRegistry opens the channel registry when one is configured. A nil
// registry disables bookkeeping.
func openRegistry(logger zerolog.Logger) store.Registry {
	ctx := context.Background()
	if dbURL := os.Getenv("GHOSTTEXT_DATABASE_URL"); dbURL != "" {
		reg, err := store.NewPostgresRegistry(ctx, dbURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("registry connection failed")
		}
		return reg
	}
	if path := os.Getenv("GHOSTTEXT_SQLITE"); path != "" {
		reg, err := store.NewSQLiteRegistry(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("registry connection failed")
		}
		return reg
	}
	return nil
}

// defaultMessageTTL keeps channel history short-lived unless overridden.
const defaultMessageTTL = 5 * time.Minute

// messageTTL reads the message lifetime from GHOSTTEXT_MESSAGE_TTL.
// "0" disables expiry entirely.
func messageTTL() time.Duration {
	value := os.Getenv("GHOSTTEXT_MESSAGE_TTL")
	if value == "" {
		return defaultMessageTTL
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid GHOSTTEXT_MESSAGE_TTL %q\n", value)
		os.Exit(1)
	}
	return d
}

// openSession builds a live session from the persisted credentials.
func openSession(logger zerolog.Logger, local *localstate.File) (store.Store, *session.Session) {
	state := loadState(local)
	st := openStore(logger)

	codec, err := crypto.NewCodec(state.SessionKey, crypto.WithProfile(crypto.ProfileSession))
	exitOnError(err)

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithLocalState(local),
	}
	if ttl := messageTTL(); ttl > 0 {
		opts = append(opts, session.WithMessageTTL(ttl))
	}
	if reg := openRegistry(logger); reg != nil {
		opts = append(opts, session.WithRegistry(reg))
	}

	sess := session.New(st, codec, state.ChannelID, state.UserIdentifier, opts...)
	return st, sess
}

// currentMessages subscribes long enough to fetch the current set.
func currentMessages(sess *session.Session) []session.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates, err := sess.Subscribe(ctx)
	exitOnError(err)

	select {
	case msgs := <-updates:
		return msgs
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Timed out reading channel.")
		os.Exit(1)
		return nil
	}
}

func printMessage(msg session.Message, gate *disguise.Gate) {
	ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] %s: %s\n", ts, msg.Sender, gate.Render(msg.Text))
}

func usage() {
	fmt.Fprintln(os.Stderr, `GhostText - hidden channels behind a boring document

Usage: ghosttext <command> [args]

Commands:
  login <document-name> <access-phrase> [user]   derive the channel and save the session
  send <message>                                 encrypt and post a message
  read [reveal]                                  print the channel (decoys unless revealed)
  watch [reveal]                                 stream the channel; holds presence
  who                                            list users online in the channel
  clear                                          delete every message (asks to confirm)
  logout                                         wipe the local session

Environment:
  GHOSTTEXT_REDIS         store URL (default redis://localhost:6379/0)
  GHOSTTEXT_CONFIG        session state directory (default ~/.ghosttext)
  GHOSTTEXT_MESSAGE_TTL   message lifetime before the sweeper deletes it (default 5m, 0 disables)
  GHOSTTEXT_DATABASE_URL  Postgres channel registry (optional)
  GHOSTTEXT_SQLITE        SQLite channel registry path (optional)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

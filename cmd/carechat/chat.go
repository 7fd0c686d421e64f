package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/carechat/pkg/chatapi"
	"github.com/go-go-golems/carechat/pkg/chatclient"
	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Chat interactively in one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args[0])
		},
	}
}

func runChat(ctx context.Context, convID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := chatapi.StaticCredential(viper.GetString("token"))
	store, err := openTranscriptStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apiClient := chatapi.NewClient(viper.GetString("server"), creds)
	registry := chatclient.NewRegistry(wsEndpoint(), creds, apiClient, store)
	defer registry.CloseAll()

	handle := registry.Get(convID)
	printer := newTranscriptPrinter(os.Stdout)
	disposers := []func(){
		handle.Bus.SubscribeFragment(printer.onFragment),
		handle.Bus.SubscribeCompletion(printer.onCompletion),
		handle.Bus.SubscribeFailure(printer.onFailure),
		handle.Bus.SubscribeControl(printer.onControl),
	}
	defer func() {
		for _, d := range disposers {
			d()
		}
	}()

	// Render the cached transcript immediately, then the fresh durable view.
	if cached, err := handle.Reconciler.Cached(ctx, convID); err == nil && len(cached.Messages) > 0 {
		printer.printHistory(cached)
	}
	conv, err := registry.Switch(ctx, convID)
	if err != nil {
		log.Warn().Err(err).Str("conv_id", convID).Msg("could not fetch conversation history")
	} else {
		printer.printHistory(conv)
	}

	if err := handle.Supervisor.Connect(ctx); err != nil {
		return errors.Wrap(err, "connecting")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				fmt.Print("> ")
				continue
			}
			if text == "/quit" {
				return context.Canceled
			}
			if err := handle.Session.Submit(ctx, text); err != nil {
				switch {
				case errors.Is(err, chatclient.ErrSessionActive):
					fmt.Println("(still answering, please wait)")
				case errors.Is(err, chatclient.ErrAuthRequired):
					return errors.New("authentication required: supply --token or CARECHAT_TOKEN")
				default:
					fmt.Printf("(send failed: %v)\n", err)
				}
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openTranscriptStore() (chatstore.TranscriptStore, error) {
	path := viper.GetString("transcript-db")
	if path == "" {
		return chatstore.NewMemoryStore(), nil
	}
	store, err := chatstore.NewSQLiteStore(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening transcript cache")
	}
	return store, nil
}

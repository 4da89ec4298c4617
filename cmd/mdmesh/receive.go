package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	client "github.com/chatmesh/mediator-go"
	"github.com/chatmesh/mediator-go/internal/chatmsg"
)

type receiveCommand struct{}

func (cmd *receiveCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	copts, err := clientOpts()
	if err != nil {
		return err
	}
	copts = append(copts, client.WithMessageHandler(printMessage))

	c := client.NewClient(copts...)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	fmt.Println("Listening for messages, Ctrl-C to stop...")
	<-ctx.Done()
	return nil
}

func printMessage(in client.IncomingMessage) {
	when := in.CreatedAt.Format("15:04:05")
	switch m := in.Msg.(type) {
	case chatmsg.Text:
		fmt.Printf("[%s] %s: %s\n", when, in.Sender, m.Body)
	case chatmsg.GroupText:
		fmt.Printf("[%s] %s (group %s/%d): %s\n", when, in.Sender, m.CreatorIdentity, m.GroupID, m.Body)
	case chatmsg.Location:
		fmt.Printf("[%s] %s: location %f,%f\n", when, in.Sender, m.Latitude, m.Longitude)
	case chatmsg.File:
		fmt.Printf("[%s] %s: file %q (%d bytes, %s)\n", when, in.Sender, m.Name, m.Size, m.MimeType)
	default:
		fmt.Printf("[%s] %s: %T\n", when, in.Sender, in.Msg)
	}
}

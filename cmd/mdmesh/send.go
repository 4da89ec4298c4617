package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	client "github.com/chatmesh/mediator-go"
)

type sendCommand struct {
	Args struct {
		Recipient string `positional-arg-name:"recipient" required:"true" description:"8-character chat identity"`
		Message   string `positional-arg-name:"message" required:"true" description:"Text message to send"`
	} `positional-args:"true" required:"true"`
}

func (cmd *sendCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.SendText(ctx, cmd.Args.Recipient, cmd.Args.Message)
	if err != nil {
		return err
	}
	if err := drain(ctx, c); err != nil {
		return err
	}

	fmt.Printf("Message %x sent to %s\n", id, cmd.Args.Recipient)
	return nil
}

type sendGroupCommand struct {
	Args struct {
		Creator string `positional-arg-name:"creator" required:"true" description:"Group creator identity"`
		GroupID string `positional-arg-name:"group-id" required:"true" description:"Group ID (decimal)"`
		Message string `positional-arg-name:"message" required:"true" description:"Text message to send"`
	} `positional-args:"true" required:"true"`
}

func (cmd *sendGroupCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	groupID, err := strconv.ParseUint(cmd.Args.GroupID, 10, 64)
	if err != nil {
		return fmt.Errorf("group id: %w", err)
	}

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	group := client.GroupRef{CreatorIdentity: cmd.Args.Creator, GroupID: groupID}
	id, err := c.SendGroupText(ctx, group, cmd.Args.Message)
	if err != nil {
		return err
	}
	if err := drain(ctx, c); err != nil {
		return err
	}

	fmt.Printf("Message %x sent to group %s/%d\n", id, cmd.Args.Creator, groupID)
	return nil
}

func loadClient(ctx context.Context) (*client.Client, error) {
	copts, err := clientOpts()
	if err != nil {
		return nil, err
	}
	c := client.NewClient(copts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// drain waits until the task queue is empty, so one-shot commands do not
// exit before delivery.
func drain(ctx context.Context, c *client.Client) error {
	for c.QueueLen() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

type queueCommand struct{}

func (cmd *queueCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	n := c.QueueLen()
	switch n {
	case 0:
		fmt.Println("Task queue is empty")
	case 1:
		fmt.Println("1 task queued")
	default:
		fmt.Printf("%d tasks queued\n", n)
	}
	return nil
}

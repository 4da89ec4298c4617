package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
)

type devicesCommand struct{}

func (cmd *devicesCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	devices, err := c.Devices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.DeviceID == opts.DeviceID {
			marker = "*"
		}
		fmt.Printf("%s device %d (%d bytes of info)\n", marker, d.DeviceID, len(d.Payload))
	}
	return nil
}

type dropDeviceCommand struct {
	Args struct {
		DeviceID string `positional-arg-name:"device-id" required:"true" description:"Device ID to remove"`
	} `positional-args:"true" required:"true"`
}

func (cmd *dropDeviceCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	deviceID, err := strconv.ParseUint(cmd.Args.DeviceID, 10, 64)
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.DropDevice(ctx, deviceID); err != nil {
		return err
	}
	fmt.Printf("Dropped device %d\n", deviceID)
	return nil
}

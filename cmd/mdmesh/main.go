// Command mdmesh is a CLI for the multi-device mediator protocol.
//
// Usage:
//
//	mdmesh link                  Show a QR code to link a new device
//	mdmesh send <to> <msg>       Send a text message
//	mdmesh receive               Receive and print incoming messages
package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"

	client "github.com/chatmesh/mediator-go"
)

type globalOpts struct {
	DB       string `long:"db" description:"Path to database file"`
	Server   string `long:"server" description:"Mediator server URL (wss://...)"`
	Identity string `short:"i" long:"identity" description:"Own 8-character chat identity"`
	Key      string `short:"k" long:"key" description:"Device group key, base64 (or set MDMESH_DGK)"`
	DeviceID uint64 `long:"device-id" description:"Device ID within the device group"`
	Verbose  bool   `short:"v" long:"verbose" description:"Enable verbose logging"`

	Link       linkCommand       `command:"link" description:"Show a QR code to link a new device to this account"`
	Join       joinCommand       `command:"join" description:"Join a device group from a scanned link URI"`
	Send       sendCommand       `command:"send" description:"Send a text message"`
	SendGroup  sendGroupCommand  `command:"send-group" description:"Send a text message to a group"`
	Receive    receiveCommand    `command:"receive" description:"Receive and print incoming messages"`
	Contacts   contactsCommand   `command:"contacts" description:"List or add contacts"`
	Groups     groupsCommand     `command:"groups" description:"Create, rename or leave groups"`
	Queue      queueCommand      `command:"queue" description:"Show the state of the persistent task queue"`
	Devices    devicesCommand    `command:"devices" description:"List devices in the device group"`
	DropDevice dropDeviceCommand `command:"drop-device" description:"Remove a device from the device group"`
}

var opts globalOpts

func main() {
	parser := flags.NewParser(&opts, flags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func deviceGroupKey() ([]byte, error) {
	raw := opts.Key
	if raw == "" {
		raw = os.Getenv("MDMESH_DGK")
	}
	if raw == "" {
		return nil, fmt.Errorf("no device group key: pass --key or set MDMESH_DGK")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("device group key: %w", err)
	}
	return key, nil
}

func clientOpts() ([]client.Option, error) {
	key, err := deviceGroupKey()
	if err != nil {
		return nil, err
	}
	copts := []client.Option{
		client.WithDeviceGroupKey(key),
		client.WithIdentity(opts.Identity),
	}
	if opts.DB != "" {
		copts = append(copts, client.WithDBPath(opts.DB))
	}
	if opts.Server != "" {
		copts = append(copts, client.WithServerURL(opts.Server))
	}
	if opts.DeviceID != 0 {
		copts = append(copts, client.WithDeviceID(opts.DeviceID))
	}
	if opts.Verbose {
		copts = append(copts, client.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	return copts, nil
}

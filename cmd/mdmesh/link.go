package main

import (
	"encoding/base64"
	"fmt"
	"os"

	qrterminal "github.com/mdp/qrterminal/v3"

	client "github.com/chatmesh/mediator-go"
)

type linkCommand struct{}

func (cmd *linkCommand) Execute(args []string) error {
	copts, err := clientOpts()
	if err != nil {
		return err
	}
	c := client.NewClient(copts...)

	offer, err := c.NewLinkOffer()
	if err != nil {
		return err
	}

	fmt.Println("Scan this QR code with the new device:")
	fmt.Println()
	qrterminal.GenerateWithConfig(offer.URI(), qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    os.Stdout,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
	})
	fmt.Println()
	fmt.Printf("Link session %s\n", offer.SessionID)
	return nil
}

type joinCommand struct {
	Args struct {
		URI string `positional-arg-name:"uri" required:"true" description:"Link URI scanned from the existing device"`
	} `positional-args:"true" required:"true"`
}

func (cmd *joinCommand) Execute(args []string) error {
	offer, err := client.ParseLinkURI(cmd.Args.URI)
	if err != nil {
		return err
	}
	fmt.Printf("Joined device group of %s\n", offer.Identity)
	fmt.Printf("export MDMESH_DGK=%s\n", base64.StdEncoding.EncodeToString(offer.DeviceGroupKey))
	fmt.Printf("Run further commands with --identity %s\n", offer.Identity)
	return nil
}

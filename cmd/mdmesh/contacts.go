package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
)

type contactsCommand struct {
	Add      string `long:"add" description:"Identity of a contact to add"`
	Key      string `long:"public-key" description:"Contact public key, base64 (with --add)"`
	Nickname string `long:"nickname" description:"Contact nickname (with --add)"`
}

func (cmd *contactsCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Add != "" {
		var key []byte
		if cmd.Key != "" {
			key, err = base64.StdEncoding.DecodeString(cmd.Key)
			if err != nil {
				return fmt.Errorf("public key: %w", err)
			}
		}
		if err := c.AddContact(ctx, cmd.Add, key, cmd.Nickname); err != nil {
			return err
		}
		if err := drain(ctx, c); err != nil {
			return err
		}
		fmt.Printf("Added %s\n", cmd.Add)
		return nil
	}

	contacts, err := c.Contacts()
	if err != nil {
		return err
	}
	for _, ct := range contacts {
		if ct.Nickname != "" {
			fmt.Printf("%s  %s\n", ct.Identity, ct.Nickname)
		} else {
			fmt.Println(ct.Identity)
		}
	}
	return nil
}

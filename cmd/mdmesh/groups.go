package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	client "github.com/chatmesh/mediator-go"
)

type groupsCommand struct {
	Create  bool   `long:"create" description:"Create a new group"`
	Rename  string `long:"rename" description:"New name for the group"`
	Leave   bool   `long:"leave" description:"Leave the group"`
	Name    string `long:"name" description:"Group name (with --create)"`
	Members string `long:"members" description:"Comma-separated member identities (with --create)"`

	Args struct {
		Creator string `positional-arg-name:"creator" description:"Group creator identity"`
		GroupID string `positional-arg-name:"group-id" description:"Group ID (decimal)"`
	} `positional-args:"true"`
}

func (cmd *groupsCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Args.Creator == "" || cmd.Args.GroupID == "" {
		return fmt.Errorf("need creator and group-id arguments")
	}
	groupID, err := strconv.ParseUint(cmd.Args.GroupID, 10, 64)
	if err != nil {
		return fmt.Errorf("group id: %w", err)
	}
	group := client.GroupRef{CreatorIdentity: cmd.Args.Creator, GroupID: groupID}

	switch {
	case cmd.Create:
		members := strings.Split(cmd.Members, ",")
		if err := c.CreateGroup(ctx, group, cmd.Name, members); err != nil {
			return err
		}
		fmt.Printf("Created group %s/%d with %d members\n", group.CreatorIdentity, groupID, len(members))
	case cmd.Rename != "":
		if err := c.RenameGroup(ctx, group, cmd.Rename); err != nil {
			return err
		}
		fmt.Printf("Renamed group to %q\n", cmd.Rename)
	case cmd.Leave:
		if err := c.LeaveGroup(ctx, group); err != nil {
			return err
		}
		fmt.Printf("Left group %s/%d\n", group.CreatorIdentity, groupID)
	default:
		return fmt.Errorf("nothing to do: pass --create, --rename or --leave")
	}
	return drain(ctx, c)
}

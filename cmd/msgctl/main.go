package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/utils"
)

const usage = `msgctl inspects and repairs the messaging store.

usage:
  msgctl [-config path] inbox <username>
  msgctl [-config path] history <conversation-id>
  msgctl [-config path] resolve <username> <username>
  msgctl [-config path] adduser <username>...
`

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	timeout := flag.Duration("timeout", 15*time.Second, "overall deadline")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}
	if cfg.Store.Driver != "mongo" {
		fail(errors.New("msgctl needs store.driver=mongo"))
	}
	logger, err := utils.NewLogger(false, "warn")
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, 10*time.Second)
	if err != nil {
		fail(err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	db := client.Database(cfg.Mongo.Database)
	convs, err := repository.NewMongoConversationRepo(ctx, db, cfg.Mongo.Conversations, cfg.StoreTimeout)
	if err != nil {
		fail(err)
	}
	users, err := repository.NewMongoUserRepo(ctx, db, cfg.Mongo.Users, cfg.StoreTimeout)
	if err != nil {
		fail(err)
	}
	pol := policy.Demo(cfg.Policy.RestrictedAccounts, cfg.Policy.SystemAccount)
	unread := service.NewUnreadNotifier(users, nil, logger)
	msgr := service.NewMessenger(convs, users, pol, unread, nil, logger, service.MessengerOptions{})

	switch cmd, rest := args[0], args[1:]; cmd {
	case "inbox":
		need(rest, 1)
		err = inbox(ctx, msgr, rest[0])
	case "history":
		need(rest, 1)
		err = history(ctx, msgr, rest[0])
	case "resolve":
		need(rest, 2)
		var id string
		id, err = service.NewResolver(convs, users, pol, nil, logger, cfg.Messaging.ResolveRetries).Resolve(ctx, rest[0], rest[1])
		if err == nil {
			color.Green.Printf("%s <-> %s: %s\n", rest[0], rest[1], id)
		}
	case "adduser":
		need(rest, 1)
		err = addUsers(ctx, users, rest)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func inbox(ctx context.Context, msgr *service.Messenger, username string) error {
	entries, err := msgr.Inbox(ctx, username)
	if err != nil {
		return err
	}
	table := newTable("ID", "With", "Unread", "Last message", "Updated")
	for _, e := range entries {
		last := ""
		if e.LastMessage != nil {
			last = e.LastMessage.Sender + ": " + preview(e.LastMessage)
		}
		unread := ""
		if e.Unread {
			unread = color.Yellow.Sprint("yes")
		}
		table.Append([]string{e.ID, e.With, unread, last, e.UpdatedAt.Format(time.RFC3339)})
	}
	table.Render()
	fmt.Printf("%d conversation(s)\n", len(entries))
	return nil
}

func history(ctx context.Context, msgr *service.Messenger, id string) error {
	conv, err := msgr.Load(ctx, id, "")
	if err != nil {
		return err
	}
	color.Cyan.Printf("%s  [%s]\n", conv.ID, strings.Join(conv.Users, ", "))
	table := newTable("#", "Sent", "Sender", "Message")
	for i, m := range conv.Messages {
		table.Append([]string{strconv.Itoa(i + 1), m.SentAt.Format("2006-01-02 15:04:05"), m.Sender, preview(&m)})
	}
	table.Render()
	return nil
}

func addUsers(ctx context.Context, users repository.UserRepository, names []string) error {
	for _, n := range names {
		err := users.Insert(ctx, &domain.User{Username: n})
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			color.Yellow.Printf("%s already exists\n", n)
		case err != nil:
			return fmt.Errorf("add %s: %w", n, err)
		default:
			color.Green.Printf("added %s\n", n)
		}
	}
	return nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("\t")
	return table
}

func preview(m *domain.Message) string {
	text := m.Body
	if text == "" && m.Attachment != "" {
		text = "[attachment] " + m.Attachment
	}
	if r := []rune(text); len(r) > 60 {
		text = string(r[:57]) + "..."
	}
	return text
}

func need(args []string, n int) {
	if len(args) < n {
		flag.Usage()
		os.Exit(2)
	}
}

func fail(err error) {
	color.Red.Printf("error: %v\n", err)
	os.Exit(1)
}

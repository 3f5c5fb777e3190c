// Command client is a small interactive console for the auth server. It
// drives the session manager the way a browser app would: login starts the
// timers, every command counts as activity, logout tears the session down.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/akarpov87/schoolauth/internal/client/api"
	"github.com/akarpov87/schoolauth/internal/client/config"
	"github.com/akarpov87/schoolauth/internal/client/session"
	"github.com/akarpov87/schoolauth/internal/logging"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger()

	client := api.NewClient(cfg.ServerURL, cfg.RequestTimeout)
	manager := session.NewManager(client, session.NewMemoryStorage(),
		session.NewHub().Endpoint(), logger, cfg, func(r session.EndReason) {
			fmt.Printf("\nsession ended: %s\n> ", r)
		})
	defer manager.Close()

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		fmt.Println("session restore failed:", err)
	}

	fmt.Println("commands: login, register, sessions, revoke <id>, logout [scope], passwd, whoami, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(line) == 0 {
			continue
		}
		manager.Activity()

		switch line[0] {
		case "login":
			login(ctx, client, manager, scanner)
		case "register":
			register(ctx, client, manager, scanner)
		case "sessions":
			listSessions(ctx, client, manager)
		case "revoke":
			if len(line) < 2 {
				fmt.Println("usage: revoke <session-id>")
				continue
			}
			run(client.RevokeSession(ctx, manager.AccessToken(), line[1]))
		case "logout":
			scope := "CurrentBrowser"
			if len(line) > 1 {
				scope = line[1]
			}
			run(manager.Logout(ctx, scope))
		case "passwd":
			changePassword(ctx, client, manager)
		case "whoami":
			whoami(manager)
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", line[0])
		}
	}
}

func run(err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func prompt(scanner *bufio.Scanner, label string) string {
	fmt.Print(label, ": ")
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func promptPassword(label string) string {
	fmt.Print(label, ": ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(b)
}

func login(ctx context.Context, client *api.Client, manager *session.Manager, scanner *bufio.Scanner) {
	username := prompt(scanner, "username")
	password := promptPassword("password")
	remember := strings.EqualFold(prompt(scanner, "remember me (y/n)"), "y")

	res, err := client.Login(ctx, username, password, remember)
	if err != nil {
		fmt.Println("login failed:", err)
		return
	}
	manager.SetSession(res, remember)
	fmt.Printf("logged in as %s, access token valid for %ds\n", res.User.Username, res.ExpiresIn)
}

func register(ctx context.Context, client *api.Client, manager *session.Manager, scanner *bufio.Scanner) {
	req := api.RegisterRequest{
		Username:  prompt(scanner, "username"),
		Email:     prompt(scanner, "email"),
		FirstName: prompt(scanner, "first name"),
		LastName:  prompt(scanner, "last name"),
		Password:  promptPassword("password"),
	}

	res, err := client.Register(ctx, req)
	if err != nil {
		fmt.Println("registration failed:", err)
		return
	}
	manager.SetSession(res, false)
	fmt.Println("registered and logged in as", res.User.Username)
}

func listSessions(ctx context.Context, client *api.Client, manager *session.Manager) {
	sessions, err := client.Sessions(ctx, manager.AccessToken())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.IsCurrent {
			marker = "*"
		}
		fmt.Printf("%s %s  %-16s %-15s expires %s\n",
			marker, s.ID, s.DeviceName, s.IPAddress, s.ExpiryDate.Format("2006-01-02 15:04"))
	}
}

func changePassword(ctx context.Context, client *api.Client, manager *session.Manager) {
	current := promptPassword("current password")
	next := promptPassword("new password")
	if promptPassword("confirm new password") != next {
		fmt.Println("passwords do not match")
		return
	}
	if err := client.ChangePassword(ctx, manager.AccessToken(), current, next); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("password changed, all sessions revoked, please log in again")
}

func whoami(manager *session.Manager) {
	if !manager.Authenticated() {
		fmt.Println("not logged in")
		return
	}
	fmt.Println("access token:", manager.AccessToken()[:16]+"...")
}

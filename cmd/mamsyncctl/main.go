package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chatarchive/mamsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))

	switch args[0] {
	case "status":
		requireArgs(args, 2, "mamsyncctl status <account>")
		c.get("/v1/accounts/" + args[1] + "/status")
	case "sync":
		requireArgs(args, 2, "mamsyncctl sync <account>")
		c.send(http.MethodPost, "/v1/accounts/"+args[1]+"/sync", "")
	case "roster":
		requireArgs(args, 3, "mamsyncctl roster <account> <jid[,group:jid]...>")
		c.send(http.MethodPut, "/v1/accounts/"+args[1]+"/roster", rosterJSON(args[2]))
	case "chats":
		requireArgs(args, 2, "mamsyncctl chats <account>")
		c.get("/v1/accounts/" + args[1] + "/chats")
	case "messages":
		requireArgs(args, 3, "mamsyncctl messages <account> <peer>")
		c.get("/v1/accounts/" + args[1] + "/chats/" + args[2] + "/messages")
	case "compose":
		requireArgs(args, 4, "mamsyncctl compose <account> <peer> <body>")
		c.send(http.MethodPost, "/v1/accounts/"+args[1]+"/chats/"+args[2]+"/messages",
			fmt.Sprintf(`{"body":%q}`, strings.Join(args[3:], " ")))
	case "open":
		requireArgs(args, 3, "mamsyncctl open <account> <peer>")
		c.send(http.MethodPost, "/v1/accounts/"+args[1]+"/chats/"+args[2]+"/open", "")
	case "more":
		requireArgs(args, 3, "mamsyncctl more <account> <peer>")
		c.send(http.MethodPost, "/v1/accounts/"+args[1]+"/chats/"+args[2]+"/more", "")
	case "full":
		requireArgs(args, 3, "mamsyncctl full <account> <peer>")
		c.send(http.MethodPost, "/v1/accounts/"+args[1]+"/chats/"+args[2]+"/full", "")
	case "prefs":
		requireArgs(args, 3, "mamsyncctl prefs <account> <always|never|roster>")
		c.send(http.MethodPut, "/v1/accounts/"+args[1]+"/prefs",
			fmt.Sprintf(`{"default":%q}`, args[2]))
	case "load-history":
		requireArgs(args, 3, "mamsyncctl load-history <account> <none|current|all>")
		c.send(http.MethodPut, "/v1/accounts/"+args[1]+"/load-history",
			fmt.Sprintf(`{"setting":%q}`, args[2]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: mamsyncctl [--session <name>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status <account>                 Show sync status")
	fmt.Fprintln(os.Stderr, "  sync <account>                   Start an account sync")
	fmt.Fprintln(os.Stderr, "  roster <account> <jids>          Set the contact list and sync")
	fmt.Fprintln(os.Stderr, "  chats <account>                  List conversations")
	fmt.Fprintln(os.Stderr, "  messages <account> <peer>        List stored messages")
	fmt.Fprintln(os.Stderr, "  compose <account> <peer> <body>  Store an outgoing message")
	fmt.Fprintln(os.Stderr, "  open <account> <peer>            Trigger the chat-opened load")
	fmt.Fprintln(os.Stderr, "  more <account> <peer>            Load one older page")
	fmt.Fprintln(os.Stderr, "  full <account> <peer>            Load the full history")
	fmt.Fprintln(os.Stderr, "  prefs <account> <default>        Set archiving preference")
	fmt.Fprintln(os.Stderr, "  load-history <account> <mode>    Set history loading mode")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

// rosterJSON turns "a@x,group:room@y" into the roster request body.
func rosterJSON(list string) string {
	type entry struct {
		JID   string `json:"jid"`
		Group bool   `json:"group"`
	}
	var entries []entry
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(item, "group:"); ok {
			entries = append(entries, entry{JID: rest, Group: true})
			continue
		}
		entries = append(entries, entry{JID: item})
	}
	raw, _ := json.Marshal(entries)
	return string(raw)
}

type client struct {
	http       *http.Client
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 10 * time.Second,
		},
	}
}

func (c *client) get(path string) {
	c.send(http.MethodGet, path, "")
}

func (c *client) send(method, path, body string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, "http://unix"+path, reader)
	if err != nil {
		fail(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.socketPath, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(err)
	}
	var pretty map[string]any
	if json.Unmarshal(raw, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

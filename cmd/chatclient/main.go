package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/corvid-systems/rtp/chat"
	"github.com/corvid-systems/rtp/transport"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:12345", "chat server address")
	localAddr := flag.String("local", "127.0.0.1:0", "local address to bind")
	username := flag.String("name", "", "username (prompted if omitted)")
	flag.Parse()

	ep, err := transport.Listen(*localAddr, transport.DefaultConfig())
	if err != nil {
		log.Fatalln("listen error:", err)
	}
	defer ep.Close()

	fmt.Println("connecting to", *serverAddr, "...")
	client, err := chat.Dial(ep, *serverAddr)
	if err != nil {
		log.Fatalln("connect error:", err)
	}
	defer client.Close()

	name := *username
	stdin := bufio.NewScanner(os.Stdin)
	if name == "" {
		fmt.Print("Enter username: ")
		stdin.Scan()
		name = strings.TrimSpace(stdin.Text())
	}
	if err := client.Login(name); err != nil {
		log.Fatalln("login error:", err)
	}
	if err := client.Join(chat.GeneralRoom); err != nil {
		log.Fatalln("join error:", err)
	}

	go printIncoming(client)

	fmt.Println("Commands: /join <room>, /leave <room>, /dm <user> <msg>, /quit")
	for {
		fmt.Printf("(%s)> ", client.Room())
		if !stdin.Scan() {
			break
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if handleCommand(client, line) {
			break
		}
	}
	fmt.Println("client shut down.")
}

// handleCommand parses one line of REPL input, modeled on
// chat_client.py's "/join"/"/dm"/"/quit" branches. It returns true
// when the REPL should exit.
func handleCommand(client *chat.Client, line string) bool {
	switch {
	case line == "/quit":
		return true

	case strings.HasPrefix(line, "/join"):
		room := strings.TrimSpace(strings.TrimPrefix(line, "/join"))
		if room == "" {
			fmt.Println("Usage: /join <room_name>")
			return false
		}
		if err := client.Join(room); err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Printf("Joining room '%s'...\n", room)

	case strings.HasPrefix(line, "/leave"):
		room := strings.TrimSpace(strings.TrimPrefix(line, "/leave"))
		if room == "" {
			room = client.Room()
		}
		if err := client.Leave(room); err != nil {
			fmt.Println("error:", err)
		}

	case strings.HasPrefix(line, "/dm"):
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			fmt.Println("Usage: /dm <user> <message>")
			return false
		}
		if err := client.DM(parts[1], parts[2]); err != nil {
			fmt.Println("error:", err)
		}

	default:
		if err := client.Send(line); err != nil {
			fmt.Println("error:", err)
		}
	}
	return false
}

// printIncoming mirrors chat_client.py's handle_server_message: format
// each envelope by type and re-print the prompt.
func printIncoming(client *chat.Client) {
	for {
		env, err := client.Recv()
		if err != nil {
			fmt.Println("\nconnection closed:", err)
			os.Exit(0)
		}

		switch env.Type {
		case chat.TypeInfo:
			fmt.Printf("\n[System] %s\n", env.Msg)
			if room, ok := strings.CutPrefix(env.Msg, "You joined "); ok {
				client.SetRoom(room)
				fmt.Printf("\n[System] Switched to room: %s\n", room)
			}
		case chat.TypeChat:
			fmt.Printf("\n[%s] %s: %s\n", env.Room, env.Sender, env.Text)
		case chat.TypeDM:
			fmt.Printf("\n[DM from %s]: %s\n", env.Sender, env.Text)
		case chat.TypeHistory:
			fmt.Printf("\n--- History for %s ---\n", env.Room)
			for _, item := range env.History {
				fmt.Printf("[%s] %s: %s\n", env.Room, item.Sender, item.Text)
			}
			fmt.Println("------------------------------------")
		}
		fmt.Printf("(%s)> ", client.Room())
	}
}

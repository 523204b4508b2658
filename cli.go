package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lair-chat/server/auth"
	"lair-chat/server/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("lair-chat server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "rooms":
		return cliRooms(args[1:], dbPath)
	case "settings":
		return cliSettings(args[1:], dbPath)
	case "users":
		return cliUsers(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	name, _, _ := st.GetSetting("server_name")
	rooms, _ := st.ListRooms()
	fmt.Printf("Server: %s\n", name)
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Rooms: %d\n", len(rooms))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		rooms, err := st.ListRooms()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, r := range rooms {
			tag := ""
			if r.IsLobby {
				tag = " (lobby)"
			}
			fmt.Printf("  %s%s\n", r.Name, tag)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		if err := st.CreateRoom(name, false, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %q\n", name)
		return true
	}

	if args[0] == "delete" && len(args) > 1 {
		name := args[1]
		if err := st.DeleteRoom(name); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted room %q\n", name)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server rooms [list|create <name>|delete <name>]\n")
	os.Exit(1)
	return true
}

func cliSettings(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		settings, err := st.GetAllSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(settings, "", "  ")
		fmt.Println(string(out))
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		if err := st.SetSetting(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server settings [list|set <key> <value>]\n")
	os.Exit(1)
	return true
}

func cliUsers(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		users, err := st.ListUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return true
		}
		for _, u := range users {
			fmt.Printf("  %s <%s> role=%s status=%s\n", u.Username, u.Email, u.Role, u.Status)
		}
		return true
	}

	if (args[0] == "suspend" || args[0] == "activate") && len(args) > 1 {
		username := args[1]
		u, err := st.GetUserByUsernameOrEmail(username)
		if err != nil || u == nil {
			fmt.Fprintf(os.Stderr, "error: user %q not found\n", username)
			os.Exit(1)
		}
		if args[0] == "suspend" {
			u.Status = auth.StatusSuspended
		} else {
			u.Status = auth.StatusActive
		}
		u.UpdatedAt = time.Now()
		if err := st.UpdateUser(u); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s status to %s\n", u.Username, u.Status)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server users [list|suspend <username>|activate <username>]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	outPath := "lair-chat-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}

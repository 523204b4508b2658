package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lair-chat/server/auth"
	"lair-chat/server/store"
)

// cliDBSetup creates a temp directory with an initialized store and returns
// the database path. The directory is cleaned up when the test finishes.
func cliDBSetup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lair-chat.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	st.Close()
	return dbPath
}

// cliDBWithRooms creates a database pre-seeded with the given rooms.
func cliDBWithRooms(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lair-chat.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	for _, name := range names {
		if err := st.CreateRoom(name, false, time.Now()); err != nil {
			t.Fatalf("CreateRoom(%q): %v", name, err)
		}
	}
	st.Close()
	return dbPath
}

// cliDBWithSettings creates a database pre-seeded with the given settings.
func cliDBWithSettings(t *testing.T, kv map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lair-chat.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	for k, v := range kv {
		if err := st.SetSetting(k, v); err != nil {
			t.Fatalf("SetSetting(%q, %q): %v", k, v, err)
		}
	}
	st.Close()
	return dbPath
}

// ---------------------------------------------------------------------------
// RunCLI: subcommand dispatch
// ---------------------------------------------------------------------------

func TestRunCLIVersionReturnsTrue(t *testing.T) {
	if !RunCLI([]string{"version"}, "not-used.db") {
		t.Error("RunCLI(version) should return true")
	}
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"nonexistent-cmd"}, "not-used.db") {
		t.Error("RunCLI(unknown) should return false")
	}
}

func TestRunCLIEmptyArgsReturnsFalse(t *testing.T) {
	if RunCLI([]string{}, "not-used.db") {
		t.Error("RunCLI([]) should return false")
	}
}

func TestRunCLINilArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil, "not-used.db") {
		t.Error("RunCLI(nil) should return false")
	}
}

// ---------------------------------------------------------------------------
// "status" subcommand
// ---------------------------------------------------------------------------

func TestCLIStatusReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"status"}, dbPath) {
		t.Error("RunCLI(status) should return true")
	}
}

// ---------------------------------------------------------------------------
// "rooms" subcommand
// ---------------------------------------------------------------------------

func TestCLIRoomsListReturnsTrue(t *testing.T) {
	dbPath := cliDBWithRooms(t, "general", "gaming")
	if !RunCLI([]string{"rooms"}, dbPath) {
		t.Error("RunCLI(rooms) should return true")
	}
}

func TestCLIRoomsListExplicitReturnsTrue(t *testing.T) {
	dbPath := cliDBWithRooms(t, "general")
	if !RunCLI([]string{"rooms", "list"}, dbPath) {
		t.Error("RunCLI(rooms list) should return true")
	}
}

func TestCLIRoomsEmptyDBReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"rooms"}, dbPath) {
		t.Error("RunCLI(rooms) with empty db should return true")
	}
}

func TestCLIRoomsCreateReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"rooms", "create", "testroom"}, dbPath) {
		t.Error("RunCLI(rooms create) should return true")
	}

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	rooms, err := st.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	found := false
	for _, r := range rooms {
		if r.Name == "testroom" {
			found = true
			break
		}
	}
	if !found {
		t.Error("room 'testroom' should exist after CLI create")
	}
}

func TestCLIRoomsDeleteReturnsTrue(t *testing.T) {
	dbPath := cliDBWithRooms(t, "temp-room")
	if !RunCLI([]string{"rooms", "delete", "temp-room"}, dbPath) {
		t.Error("RunCLI(rooms delete) should return true")
	}

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	rooms, err := st.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	for _, r := range rooms {
		if r.Name == "temp-room" {
			t.Error("room 'temp-room' should not exist after CLI delete")
		}
	}
}

// ---------------------------------------------------------------------------
// "users" subcommand
// ---------------------------------------------------------------------------

func cliDBWithUser(t *testing.T) (dbPath, userID string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "lair-chat.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	now := time.Now()
	u := &auth.User{
		ID: "u-1", Username: "dave", Email: "dave@example.com",
		PasswordHash: "hash", Role: auth.RoleUser, Status: auth.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return dbPath, u.ID
}

func TestCLIUsersListReturnsTrue(t *testing.T) {
	dbPath, _ := cliDBWithUser(t)
	if !RunCLI([]string{"users", "list"}, dbPath) {
		t.Error("RunCLI(users list) should return true")
	}
}

func TestCLIUsersEmptyDBReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"users"}, dbPath) {
		t.Error("RunCLI(users) with empty db should return true")
	}
}

func TestCLIUsersSuspendThenActivate(t *testing.T) {
	dbPath, userID := cliDBWithUser(t)

	if !RunCLI([]string{"users", "suspend", "dave"}, dbPath) {
		t.Error("RunCLI(users suspend) should return true")
	}
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	u, err := st.GetUserByID(userID)
	if err != nil || u == nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.Status != auth.StatusSuspended {
		t.Errorf("status: got %q, want %q", u.Status, auth.StatusSuspended)
	}
	st.Close()

	if !RunCLI([]string{"users", "activate", "dave"}, dbPath) {
		t.Error("RunCLI(users activate) should return true")
	}
	st, err = store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()
	u, err = st.GetUserByID(userID)
	if err != nil || u == nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.Status != auth.StatusActive {
		t.Errorf("status: got %q, want %q", u.Status, auth.StatusActive)
	}
}

// ---------------------------------------------------------------------------
// "settings" subcommand
// ---------------------------------------------------------------------------

func TestCLISettingsListReturnsTrue(t *testing.T) {
	dbPath := cliDBWithSettings(t, map[string]string{"server_name": "test"})
	if !RunCLI([]string{"settings"}, dbPath) {
		t.Error("RunCLI(settings) should return true")
	}
}

func TestCLISettingsListExplicitReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"settings", "list"}, dbPath) {
		t.Error("RunCLI(settings list) should return true")
	}
}

func TestCLISettingsSetReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"settings", "set", "mykey", "myvalue"}, dbPath) {
		t.Error("RunCLI(settings set) should return true")
	}

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	val, ok, err := st.GetSetting("mykey")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if !ok {
		t.Fatal("expected setting to exist")
	}
	if val != "myvalue" {
		t.Errorf("setting value: got %q, want %q", val, "myvalue")
	}
}

// ---------------------------------------------------------------------------
// "backup" subcommand
// ---------------------------------------------------------------------------

func TestCLIBackupDefaultPath(t *testing.T) {
	dbPath := cliDBSetup(t)

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	tmpDir := t.TempDir()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(origDir)

	if !RunCLI([]string{"backup"}, dbPath) {
		t.Error("RunCLI(backup) should return true")
	}

	backupPath := filepath.Join(tmpDir, "lair-chat-backup.db")
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		t.Error("backup file should exist at default path")
	}

	backupStore, err := store.New(backupPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	backupStore.Close()
}

func TestCLIBackupCustomPath(t *testing.T) {
	dbPath := cliDBWithSettings(t, map[string]string{"server_name": "backup-test"})
	outPath := filepath.Join(t.TempDir(), "custom-backup.db")

	if !RunCLI([]string{"backup", outPath}, dbPath) {
		t.Error("RunCLI(backup <path>) should return true")
	}

	if _, err := os.Stat(outPath); os.IsNotExist(err) {
		t.Error("backup file should exist at custom path")
	}

	backupStore, err := store.New(outPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backupStore.Close()

	val, ok, err := backupStore.GetSetting("server_name")
	if err != nil || !ok || val != "backup-test" {
		t.Errorf("backup should contain server_name=backup-test, got %q ok=%v err=%v", val, ok, err)
	}
}

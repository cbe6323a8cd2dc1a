package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"
	tdclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/mdp/qrterminal/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/dialogport/tg-archiver/internal/config"
)

func main() {
	fmt.Println("=== telegram archiver auth tool ===")
	fmt.Println("this tool stores a telegram session in the archive database")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)

	// try to detect telegram desktop
	tdataPath := getTelegramDesktopPath()
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)

	fmt.Println("choose authentication method:")
	if tdataErr == nil && len(accounts) > 0 {
		fmt.Printf("  1. import telegram desktop session (%d found at %s)\n", len(accounts), tdataPath)
	} else {
		fmt.Println("  1. import telegram desktop session (none detected)")
	}
	fmt.Println("  2. authenticate with phone number (sms/code)")
	fmt.Println("  3. authenticate with qr code")
	fmt.Print("\nenter choice [3]: ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	apiID, apiHash := getAPICredentials(cfg, reader)
	cfg.TGApiID = apiID
	cfg.TGApiHash = apiHash

	var data *session.Data

	switch choice {
	case "1":
		data, err = importTData(accounts, reader)
	case "2":
		err = authWithPhone(cfg, reader)
	default:
		data, err = authWithQR(cfg)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	// phone auth persists straight into the database, nothing left to save
	if data != nil {
		if err := saveSession(cfg.DatabaseURL, data); err != nil {
			fmt.Printf("error saving session: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("\n✓ session stored, the archiver will pick it up on next start")
}

// getTelegramDesktopPath returns the path to Telegram Desktop data directory
func getTelegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// getAPICredentials reads API ID and Hash from config or prompts user
func getAPICredentials(cfg *config.Config, reader *bufio.Reader) (int, string) {
	apiID := cfg.TGApiID
	apiHash := cfg.TGApiHash

	if apiID == 0 {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		raw, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			fmt.Printf("error: invalid api_id: %v\n", err)
			os.Exit(1)
		}
		apiID = id
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		raw, _ := reader.ReadString('\n')
		apiHash = strings.TrimSpace(raw)
	}

	return apiID, apiHash
}

// importTData converts a Telegram Desktop session without going online
func importTData(accounts []tdesktop.Account, reader *bufio.Reader) (*session.Data, error) {
	if len(accounts) == 0 {
		fmt.Print("enter telegram desktop path: ")
		customPath, _ := reader.ReadString('\n')
		customPath = strings.TrimSpace(customPath)
		if !strings.HasSuffix(customPath, "tdata") {
			customPath = filepath.Join(customPath, "tdata")
		}

		var err error
		accounts, err = tdesktop.Read(customPath, nil)
		if err != nil {
			return nil, fmt.Errorf("read tdata: %w", err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("no accounts found in %s", customPath)
		}
	}

	idx := 0
	if len(accounts) > 1 {
		fmt.Printf("found %d accounts, select one [1]: ", len(accounts))
		raw, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}

	data, err := session.TDesktopSession(accounts[idx])
	if err != nil {
		return nil, fmt.Errorf("convert tdesktop session: %w", err)
	}
	return data, nil
}

// authWithPhone authenticates using phone number (SMS/code).
// The session is written directly into the archive database; a local
// sqlite file is used as fallback when the database is unreachable.
func authWithPhone(cfg *config.Config, reader *bufio.Reader) error {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")

	dialector := gorm.Dialector(postgres.Open(cfg.DatabaseURL))
	if _, err := gorm.Open(dialector, &gorm.Config{Logger: glogger.Discard}); err != nil {
		fmt.Printf("database unreachable (%v), falling back to local tg_session.db\n", err)
		dialector = sqlite.Open("tg_session.db")
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(dialector),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return err
	}
	defer client.Stop()

	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	return nil
}

// authWithQR runs the QR login flow, rendering the code in the terminal
func authWithQR(cfg *config.Config) (*session.Data, error) {
	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	client := tdclient.NewClient(cfg.TGApiID, cfg.TGApiHash, tdclient.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	})

	var data *session.Data
	err := client.Run(context.Background(), func(ctx context.Context) error {
		qr := client.QR()
		loggedIn := qrlogin.OnLoginToken(&dispatcher)

		_, err := qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			fmt.Println("\nscan this code with telegram (settings > devices > link desktop device):")
			qrterminal.GenerateHalfBlock(token.URL(), qrterminal.L, os.Stdout)
			return nil
		})
		if err != nil {
			return err
		}

		loader := session.Loader{Storage: memStorage}
		data, err = loader.Load(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("qr auth: %w", err)
	}

	return data, nil
}

// saveSession upserts gotd session data into the sessions table
func saveSession(databaseURL string, data *session.Data) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{Logger: glogger.Discard})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("prepare sessions table: %w", err)
	}

	return db.Save(&storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}).Error
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/jun/promptdrive/internal/adapter/googledrive"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/config"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/prompt"
	"github.com/jun/promptdrive/internal/secret"
)

const (
	appName          = "promptdrive"
	loopbackRedirect = "http://127.0.0.1:0/callback"
)

// fileList collects repeated -attach flags.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var attachments fileList
	verboseFlag := flag.Bool("v", false, "Print logs")
	loginFlag := flag.Bool("login", false, "Authorize promptdrive to store your answers in Google Drive.")
	promptFlag := flag.Bool("prompt", false, "Print the prompt of the day.")
	submitFlag := flag.String("submit", "", "Save TEXT as today's answer; - reads it from stdin.")
	entriesFlag := flag.Bool("entries", false, "List the files saved for the day as JSON.")
	dateFlag := flag.String("date", "", "Day for -prompt and -entries, as YYYY-MM-DD (default today).")
	flag.Var(&attachments, "attach", "Attach a file to the submission (repeatable).")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "promptdrive: answer the daily writing prompt and keep it in Google Drive.\n\n")
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if !*verboseFlag {
		log.SetOutput(io.Discard)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(ctx, secret.NewEnvResolver())
	if err != nil {
		fail("Error: %v", err)
	}
	cfg.OAuth.RedirectURL = loopbackRedirect

	tokenPath, err := auth.DefaultTokenPath(appName)
	if err != nil {
		fail("Error: %v", err)
	}

	j, err := newJournal(cfg)
	if err != nil {
		fail("Error: %v", err)
	}

	switch {
	case *loginFlag:
		tok, err := auth.LoopbackLogin(ctx, cfg.OAuth, browser.OpenURL)
		if err != nil {
			fail("Authentication failed: %v", err)
		}
		if err := auth.SaveTokenFile(tokenPath, tok); err != nil {
			fail("Error: %v", err)
		}
		fmt.Println("Successfully logged in. Answers will be saved to Google Drive.")

	case *promptFlag:
		date, err := j.ParseDate(*dateFlag)
		if err != nil {
			fail("Error: %v", err)
		}
		p := j.PromptFor(date)
		fmt.Printf("%s\n%s\n", p.Date, p.Text)

	case *submitFlag != "" || len(attachments) > 0:
		if *dateFlag != "" {
			fail("Error: -date cannot be used with -submit; answers are filed under today")
		}
		sub, closeAll, err := buildSubmission(*submitFlag, attachments)
		if err != nil {
			fail("Error: %v", err)
		}
		defer closeAll()

		err = withDrive(ctx, cfg, tokenPath, func(store *googledrive.DriveAdapter) error {
			receipt, err := j.Submit(ctx, store, sub)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		})
		if err != nil {
			fail("Error: %v", err)
		}

	case *entriesFlag:
		date, err := j.ParseDate(*dateFlag)
		if err != nil {
			fail("Error: %v", err)
		}
		err = withDrive(ctx, cfg, tokenPath, func(store *googledrive.DriveAdapter) error {
			entries, err := j.Entries(ctx, store, date)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
		if err != nil {
			fail("Error: %v", err)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newJournal(cfg *config.Config) (*journal.Service, error) {
	book := prompt.Default()
	if cfg.PromptsFile != "" {
		loaded, err := prompt.Load(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		book = loaded
	}
	return journal.NewService(book,
		journal.WithAppFolder(cfg.AppFolder),
		journal.WithLocation(cfg.Location),
		journal.WithUploadLimit(cfg.UploadConcurrency),
	), nil
}

// buildSubmission reads the response text and opens every attachment.
// The returned func closes the attachments.
func buildSubmission(text string, paths []string) (journal.Submission, func(), error) {
	var sub journal.Submission
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	if text == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return sub, closeAll, fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(b)
	}
	sub.Response = text

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return sub, func() {}, fmt.Errorf("failed to open attachment: %w", err)
		}
		files = append(files, f)
		sub.Attachments = append(sub.Attachments, journal.Attachment{Name: path, Content: f})
	}
	return sub, closeAll, nil
}

// withDrive runs fn against the Drive of the logged-in user and writes a
// refreshed token back to the token file.
func withDrive(ctx context.Context, cfg *config.Config, tokenPath string, fn func(*googledrive.DriveAdapter) error) error {
	tok, err := auth.LoadTokenFile(tokenPath)
	if err != nil {
		return err
	}

	src := oauth2.ReuseTokenSource(tok, cfg.OAuth.TokenSource(ctx, tok))
	store, err := googledrive.NewDriveAdapter(ctx, oauth2.NewClient(ctx, src))
	if err != nil {
		return err
	}

	runErr := fn(store)

	if latest, err := src.Token(); err == nil && latest.AccessToken != tok.AccessToken {
		if err := auth.SaveTokenFile(tokenPath, latest); err != nil {
			log.Printf("WARNING: failed to save refreshed token: %v", err)
		}
	}
	return runErr
}

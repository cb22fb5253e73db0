// main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/petervdpas/bloomstrip/internal/booth"
	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
	"github.com/petervdpas/bloomstrip/internal/gallery"
	"github.com/petervdpas/bloomstrip/internal/review"
	signalrelay "github.com/petervdpas/bloomstrip/internal/signal"
	"github.com/petervdpas/bloomstrip/internal/session"
	"github.com/petervdpas/bloomstrip/internal/strip"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Bloomstrip v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		return
	}

	command := args[0]
	switch command {
	case "relay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: relay command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: bloomstrip relay <booth-directory>")
			os.Exit(1)
		}
		runRelay(args[1])

	case "booth":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: booth command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: bloomstrip booth <booth-directory>")
			os.Exit(1)
		}
		runBooth(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func loadBoothDir(dirArg string) (string, config.Config) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid booth directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Booth directory does not exist: %s", absDir)
	}
	cfg, err := config.Load(absDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return absDir, cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func runRelay(dirArg string) {
	absDir, cfg := loadBoothDir(dirArg)
	printBanner(absDir, cfg, true)

	ctx, cancel := signalContext()
	defer cancel()

	addr := net.JoinHostPort(cfg.Relay.Bind, strconv.Itoa(cfg.Relay.Port))
	srv, err := signalrelay.NewServer(addr, cfg.Relay.ExternalURL, cfg.Relay.RoomDBPath)
	if err != nil {
		log.Fatalf("Relay setup failed: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Relay failed: %v", err)
	}
	fmt.Printf("Relay:   %s\n", srv.URL())
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()
}

func runBooth(dirArg string) {
	absDir, cfg := loadBoothDir(dirArg)
	printBanner(absDir, cfg, false)

	ctx, cancel := signalContext()
	defer cancel()

	layout, err := strip.ParseLayout(cfg.Session.Layout)
	if err != nil {
		log.Fatalf("Bad layout: %v", err)
	}

	store, err := gallery.NewStore(cfg.Output.Dir)
	if err != nil {
		log.Fatalf("Gallery setup failed: %v", err)
	}

	pres := &consolePresenter{}
	timeout := time.Duration(cfg.Session.ReviewTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	gate := review.NewGate(nil, timeout, pres)

	var (
		local     frame.Source
		remote    frame.Source
		connected func() bool
	)

	if cfg.Session.Mode == config.ModePaired {
		client, err := signalrelay.Dial(ctx, cfg.Signal.ServerURL)
		if err != nil {
			log.Fatalf("Signaling dial failed: %v", err)
		}
		defer client.Close()

		sess, err := session.New(session.Options{
			Signaler: client,
			Room:     cfg.Signal.Room,
			Media:    cfg.Media,
			OnState: func(st session.State) {
				fmt.Printf("\n[session] %s\n> ", st)
			},
		})
		if err != nil {
			log.Fatalf("Session setup failed: %v", err)
		}
		if err := sess.Start(ctx); err != nil {
			log.Fatalf("Session start failed: %v", err)
		}
		defer sess.Teardown()
		fmt.Printf("Peer id:         %s (share with your partner)\n\n", sess.SelfID())

		local = sess.LocalSource()
		remote = sess.RemoteSource()
		connected = sess.Connected
	} else {
		cam, closeCam, err := session.OpenCamera(cfg.Media)
		if err != nil {
			log.Fatalf("Camera failed: %v", err)
		}
		defer closeCam()
		local = cam
	}

	seq, err := booth.NewSequencer(booth.Options{
		Session:    cfg.Session,
		Layout:     layout,
		Local:      local,
		Remote:     remote,
		Connected:  connected,
		Gate:       gate,
		Compositor: strip.New(cfg.Session.StripColor, cfg.Session.Caption),
		Presenter:  pres,
		OnCompleted: func(img *image.RGBA) {
			path, err := store.Save(img)
			if err != nil {
				log.Printf("Save failed: %v", err)
				return
			}
			fmt.Printf("\nStrip saved: %s\n> ", path)
		},
		OnCancelled: func() {
			fmt.Print("\nSequence cancelled\n> ")
		},
	})
	if err != nil {
		log.Fatalf("Sequencer setup failed: %v", err)
	}

	commandLoop(ctx, cancel, seq, gate)
}

// commandLoop drives the booth from stdin: s starts a sequence, k/r answer
// the active review, q quits. Reviews resolve from the same loop the
// sequence was started from, so the sequence itself runs in a goroutine.
func commandLoop(ctx context.Context, cancel context.CancelFunc, seq *booth.Sequencer, gate *review.Gate) {
	fmt.Println("Commands: s = start sequence, k = keep, r = retake, q = quit")
	fmt.Print("> ")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			switch line {
			case "s":
				if !seq.CancelAllowed() {
					fmt.Print("sequence already running\n> ")
					continue
				}
				go func() {
					if _, err := seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						fmt.Printf("\nsequence failed: %v\n> ", err)
					}
				}()
			case "k":
				gate.Keep()
			case "r":
				gate.Retake()
			case "q":
				cancel()
				return
			case "":
				fmt.Print("> ")
			default:
				fmt.Printf("unknown command %q\n> ", line)
			}
		}
	}
}

// consolePresenter renders countdown, flash and review prompts on stdout.
type consolePresenter struct{}

func (p *consolePresenter) Countdown(pose int, label string) {
	fmt.Printf("\n  [pose %d] %s", pose, label)
}

func (p *consolePresenter) Flash() {
	fmt.Print("  *FLASH*\n")
}

func (p *consolePresenter) SetBusy(busy bool) {
	if busy {
		fmt.Print("\n(controls locked for the sequence)\n")
	} else {
		fmt.Print("\n(controls unlocked)\n> ")
	}
}

func (p *consolePresenter) ShowReview(_ image.Image, remainingSec int) {
	fmt.Printf("\nKeep this photo? k = keep, r = retake (%ds, auto-keep)\n> ", remainingSec)
}

func (p *consolePresenter) Tick(remainingSec int) {
	fmt.Printf("\r%2ds ", remainingSec)
}

func (p *consolePresenter) HideReview() {
	fmt.Println()
}

func showUsage() {
	fmt.Println("Bloomstrip - Vintage Photobooth")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bloomstrip relay <directory>   Run the signaling relay")
	fmt.Println("  bloomstrip booth <directory>   Run a booth (solo or paired)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  relay <directory>")
	fmt.Println("        Run the room relay used by paired booths")
	fmt.Println("        The directory must contain a config.json file")
	fmt.Println()
	fmt.Println("  booth <directory>")
	fmt.Println("        Run a capture booth from the specified directory")
	fmt.Println("        Paired mode additionally needs signal.server_url and signal.room")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run the relay")
	fmt.Println("  bloomstrip relay ./booths/relay")
	fmt.Println()
	fmt.Println("  # Run a solo booth")
	fmt.Println("  bloomstrip booth ./booths/solo")
}

func printBanner(dir string, cfg config.Config, relay bool) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                 Bloomstrip Photobooth                  ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Booth Directory: %s\n", dir)
	if relay {
		fmt.Printf("Relay Bind:      %s:%d\n", cfg.Relay.Bind, cfg.Relay.Port)
		if cfg.Relay.RoomDBPath != "" {
			fmt.Printf("Room Journal:    %s\n", cfg.Relay.RoomDBPath)
		}
	} else {
		fmt.Printf("Mode:            %s\n", cfg.Session.Mode)
		fmt.Printf("Layout:          %s\n", cfg.Session.Layout)
		if cfg.Session.Mode == config.ModePaired {
			fmt.Printf("Relay:           %s\n", cfg.Signal.ServerURL)
			fmt.Printf("Room:            %s\n", cfg.Signal.Room)
		}
		fmt.Printf("Strips:          %s\n", cfg.Output.Dir)
	}
	fmt.Println()
}

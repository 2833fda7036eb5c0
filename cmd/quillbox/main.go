package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quillbox/quillbox/internal/blob"
	"github.com/quillbox/quillbox/internal/client"
	"github.com/quillbox/quillbox/internal/config"
	"github.com/quillbox/quillbox/internal/gateway"
	httpapp "github.com/quillbox/quillbox/internal/http"
	"github.com/quillbox/quillbox/internal/ingest"
	"github.com/quillbox/quillbox/internal/rate"
	"github.com/quillbox/quillbox/internal/store/sqlite"
	"github.com/quillbox/quillbox/internal/token"
	"github.com/quillbox/quillbox/internal/validate"
)

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	cmd := os.Args[1]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println("quillbox v" + config.Version)
		return
	}
	if strings.HasPrefix(cmd, "-") {
		runServer()
		return
	}

	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "post", "submit":
		cmdPost(args)
	case "read", "list":
		cmdList(args)
	case "token":
		cmdToken(args)
	case "fetch":
		cmdFetch(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`quillbox - Blog post ingestion with token-gated images

Usage: quillbox <command> [options]

Client Commands:
  post                Submit a new post with images
  list                List committed posts
  token               Mint an access token for one image
  fetch               Download an image using a token

Server:
  server              Start the Quillbox server (default if no command)

Examples:
  quillbox post --title "Hello Quillbox" --description "First post" \
      --main cover.jpg --extra detail.png,chart.png
  quillbox list
  quillbox list --ref 3
  quillbox token --image img-....jpg
  quillbox fetch --image img-....jpg --token TOKEN --out cover.jpg

Environment Variables (server):
  QUILLBOX_ADDR                Listen address (default: :8080)
  QUILLBOX_DB                  Database path (default: quillbox.db)
  QUILLBOX_IMAGE_DIR           Image directory (default: images)
  QUILLBOX_TOKEN_SECRET        Token signing secret
  QUILLBOX_TOKEN_TTL           Token lifetime (default: 5m)
  QUILLBOX_RL_SUBMIT_PER_MIN   Submissions per minute per IP (default: 10)
  QUILLBOX_RL_TOKEN_PER_MIN    Token mints per minute per IP (default: 60)
  QUILLBOX_RL_FETCH_PER_MIN    Image fetches per minute per IP (default: 120)`)
}

// ============================================================================
// SERVER
// ============================================================================

func runServer() {
	cfg := config.Load()

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer st.Close()

	blobs, err := blob.Open(cfg.ImageDir)
	if err != nil {
		log.Fatalf("failed to open image dir: %v", err)
	}

	secret := []byte(cfg.TokenSecret)
	pipeline := ingest.NewPipeline(validate.NewPolicy(nil), blobs, st)
	issuer := token.NewIssuer(secret, nil)
	gw := gateway.New(token.NewVerifier(secret, nil), blobs)
	limiter := rate.NewMemory()

	server := httpapp.NewServer(st, pipeline, issuer, gw, limiter, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("quillbox listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// ============================================================================
// CLIENT COMMANDS
// ============================================================================

func serverURL(fs *flag.FlagSet) *string {
	return fs.String("url", "http://localhost:8080", "Quillbox server URL")
}

func cmdPost(args []string) {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	url := serverURL(fs)
	title := fs.String("title", "", "Post title (required, 5-50 chars)")
	description := fs.String("description", "", "Post description (required)")
	when := fs.String("date-time", "", "Publication time, RFC3339 (default: now)")
	main := fs.String("main", "", "Main image file (required)")
	extra := fs.String("extra", "", "Comma-separated additional image files (max 5)")
	fs.Parse(args)

	if *title == "" || *description == "" || *main == "" {
		fmt.Fprintln(os.Stderr, "Error: --title, --description and --main are required")
		os.Exit(1)
	}

	dateTime := time.Now()
	if *when != "" {
		parsed, err := time.Parse(time.RFC3339, *when)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --date-time: %v\n", err)
			os.Exit(1)
		}
		dateTime = parsed
	}

	var additional []string
	if *extra != "" {
		for _, p := range strings.Split(*extra, ",") {
			additional = append(additional, strings.TrimSpace(p))
		}
	}

	c := client.New(strings.TrimSuffix(*url, "/"))
	post, err := c.SubmitPost(client.Submission{
		Title:            *title,
		Description:      *description,
		DateTime:         dateTime,
		MainImage:        *main,
		AdditionalImages: additional,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Posted: %s\n", post.Title)
	fmt.Printf("  Reference: %d\n", post.ReferenceNumber)
	fmt.Printf("  Main image: %s\n", post.MainImage)
	for _, img := range post.AdditionalImages {
		fmt.Printf("  Additional: %s\n", img)
	}
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	url := serverURL(fs)
	ref := fs.Int64("ref", 0, "Show one post by reference number")
	fs.Parse(args)

	c := client.New(strings.TrimSuffix(*url, "/"))

	if *ref != 0 {
		post, err := c.GetPost(*ref)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printPost(*post)
		return
	}

	posts, err := c.ListPosts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(posts) == 0 {
		fmt.Println("No posts yet")
		return
	}
	for _, post := range posts {
		printPost(post)
	}
}

func printPost(post client.Post) {
	fmt.Printf("\n#%d %s\n", post.ReferenceNumber, post.Title)
	fmt.Printf("  %s | %s\n", post.DateTime, post.TitleSlug)
	fmt.Printf("  %s\n", post.Description)
	fmt.Printf("  Main image: %s\n", post.MainImage)
	for _, img := range post.AdditionalImages {
		fmt.Printf("  Additional: %s\n", img)
	}
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	url := serverURL(fs)
	image := fs.String("image", "", "Image path to authorize (required)")
	fs.Parse(args)

	if *image == "" {
		fmt.Fprintln(os.Stderr, "Error: --image is required")
		os.Exit(1)
	}

	c := client.New(strings.TrimSuffix(*url, "/"))
	tok, expiresAt, err := c.RequestToken(*image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token:   %s\n", tok)
	fmt.Printf("Expires: %s\n", expiresAt)
}

func cmdFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	url := serverURL(fs)
	image := fs.String("image", "", "Image path (required)")
	tok := fs.String("token", "", "Access token (minted on demand if omitted)")
	out := fs.String("out", "", "Output file (default: image path basename)")
	fs.Parse(args)

	if *image == "" {
		fmt.Fprintln(os.Stderr, "Error: --image is required")
		os.Exit(1)
	}

	c := client.New(strings.TrimSuffix(*url, "/"))

	access := *tok
	if access == "" {
		minted, _, err := c.RequestToken(*image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error minting token: %v\n", err)
			os.Exit(1)
		}
		access = minted
	}

	body, contentType, err := c.FetchImage(*image, access)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer body.Close()

	dest := *out
	if dest == "" {
		dest = filepath.Base(*image)
	}
	f, err := os.Create(dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Saved %s (%d bytes, %s)\n", dest, n, contentType)
}

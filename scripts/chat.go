// Streams one prompt from a voxlink chat endpoint and prints the reply as
// it arrives. Ctrl-C cancels the stream.
//
//	go run scripts/chat.go -url http://localhost:3001/chat/stream "hello there"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/stream"
)

func main() {
	url := flag.String("url", "http://localhost:3001/chat/stream", "chat stream endpoint")
	method := flag.String("method", "POST", "GET or POST")
	logLevel := flag.String("log_level", "warn", "")
	flag.Parse()
	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		fmt.Println("usage: chat [-url=...] [-method=GET|POST] prompt...")
		os.Exit(1)
	}
	logger := logging.InitLogger(*logLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := stream.NewClient(stream.Config{URL: *url, Method: *method}, stream.WithLogger(logger))
	session, err := client.Start(ctx, prompt, stream.Handlers{
		OnFragment: func(text string) { fmt.Print(text) },
	})
	if err != nil {
		fmt.Println("stream error:", err)
		os.Exit(1)
	}
	res := session.Wait(context.Background())
	fmt.Println()
	switch {
	case res.Status == stream.StatusCancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
	case res.Err != nil:
		fmt.Fprintf(os.Stderr, "stream failed (%s): %v\n", errorsx.Reason(res.Err), res.Err)
		os.Exit(1)
	}
}

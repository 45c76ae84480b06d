package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/oesand/wsline"
	"github.com/oesand/wsline/internal/client"
	"github.com/oesand/wsline/internal/stream"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

const maxLineSize = 64 * 1024

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  wsline client [flags] <host> <port>\n")
	fmt.Fprintf(os.Stderr, "  wsline server [flags] [host] [port]\n")
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "client":
		err = runClient(os.Args[2:])
	case "server":
		err = runServer(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func parsePort(raw string) (uint16, error) {
	port, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return uint16(port), nil
}

func runClient(args []string) error {
	flags := flag.NewFlagSet("client", flag.ExitOnError)
	resource := flags.String("resource", "/", "requested resource path")
	origin := flags.String("origin", "", "value of the Origin header")
	proxy := flags.String("proxy", "", "socks5://[user:password@]host[:port]")
	timeout := flags.Duration("timeout", wsline.DefaultHandshakeTimeout, "connect and handshake timeout")
	debug := flags.Bool("debug", false, "log connection events")
	flags.Parse(args)

	if flags.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	port, err := parsePort(flags.Arg(1))
	if err != nil {
		return err
	}

	dialer := wsline.DefaultDialer()
	dialer.Origin = *origin
	dialer.Proxy = *proxy
	dialer.HandshakeTimeout = *timeout
	dialer.Debug = *debug

	cln, err := dialer.Dial(flags.Arg(0), port, *resource)
	if err != nil {
		return err
	}
	log.Printf("connected to %s:%d%s", flags.Arg(0), port, *resource)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		out := stream.DefaultBufioWriterPool.Get(os.Stdout)
		defer stream.DefaultBufioWriterPool.Put(out)
		for msg := range cln.Messages() {
			printMessage(out, msg)
			out.Flush()
		}
	}()

	go readInput(cln)

	<-printed
	if err = cln.Err(); err != nil {
		return err
	}
	log.Printf("connection closed")
	return nil
}

func readInput(cln *wsline.Client) {
	reader := stream.DefaultBufioReaderPool.Get(os.Stdin)
	defer stream.DefaultBufioReaderPool.Put(reader)

	for {
		line, err := stream.ReadLine(reader, maxLineSize)
		if err != nil {
			if errors.Is(err, specs.ErrTooLarge) {
				log.Printf("line exceeds %d bytes, dropped", maxLineSize)
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("read input: %v", err)
			}
			cln.Close()
			return
		}
		if err = cln.SendText(line); err != nil {
			log.Printf("send: %v", err)
			return
		}
		if line == ws.ExitMessage {
			return
		}
	}
}

func printMessage(out *bufio.Writer, msg ws.Message) {
	if msg.Opcode == ws.OpBinary {
		fmt.Fprintf(out, "< [%d bytes] %x\n", len(msg.Payload), msg.Payload)
		return
	}
	fmt.Fprintf(out, "< %s\n", msg.Payload)
}

func runServer(args []string) error {
	flags := flag.NewFlagSet("server", flag.ExitOnError)
	workers := flags.Int("workers", wsline.DefaultMaxWorkers, "connections served at once")
	handshakes := flags.Int("handshakes", wsline.DefaultMaxHandshakes, "concurrent handshakes")
	readTimeout := flags.Duration("read-timeout", 0, "close connections idle for longer, 0 disables")
	echo := flags.Bool("echo", false, "echo every message back to its sender")
	broadcast := flags.Bool("broadcast", false, "relay every message to all connections")
	debug := flags.Bool("debug", false, "log connection events")
	flags.Parse(args)

	host := wsline.DefaultHost
	port := wsline.DefaultPort
	if flags.NArg() > 0 {
		host = flags.Arg(0)
	}
	if flags.NArg() > 1 {
		var err error
		if port, err = parsePort(flags.Arg(1)); err != nil {
			return err
		}
	}

	srv := wsline.DefaultServer(nil)
	srv.MaxWorkers = *workers
	srv.MaxHandshakes = *handshakes
	srv.ReadTimeout = *readTimeout
	srv.Debug = *debug

	handlers := []wsline.Handler{wsline.LogHandler(srv)}
	if *echo {
		handlers = append(handlers, wsline.EchoHandler())
	}
	if *broadcast {
		handlers = append(handlers, wsline.BroadcastHandler(srv))
	}
	srv.Handler = wsline.ChainHandlers(handlers...)

	stopped := make(chan struct{})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		log.Printf("shutting down")
		go func() {
			<-time.After(5 * time.Second)
			log.Fatal("shutdown timed out")
		}()
		srv.Shutdown()
		if *debug {
			log.Printf("served %d connections", srv.Stats().Served)
		}
		close(stopped)
	}()

	addr := client.HostPort(host, port)
	log.Printf("listening on %s", addr)
	err := srv.ListenAndServe(addr)
	if errors.Is(err, wsline.ErrServerShutdown) {
		<-stopped
		return nil
	}
	return err
}

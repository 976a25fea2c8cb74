package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"framehash/pkg/config"
	"framehash/pkg/framehash"
	"framehash/pkg/repl"
	"framehash/pkg/shell"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
)

// Listens for SIGINT or SIGTERM, persists the instance and exits.
func setupCloseHandler(s *shell.Session) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		if err := s.Close(); err != nil {
			fmt.Println(err)
		}
		logger.OnExit()
		os.Exit(0)
	}()
}

// Start listening for connections at port `port`.
func startServer(r *repl.REPL, prompt string, port int) {
	handleConn := func(c net.Conn) {
		defer c.Close()
		r.Run(uuid.New(), prompt, c, c)
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%v server started listening on localhost:%v\n", config.Name,
		listener.Addr().(*net.TCPAddr).Port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Print(err)
			continue
		}
		go handleConn(conn)
	}
}

// openSession loads the masterpath when it exists and starts empty otherwise.
func openSession(opts framehash.Options) (*shell.Session, error) {
	s, err := shell.NewSession(opts)
	if err != nil || opts.Masterpath == "" {
		return s, err
	}
	if _, err := os.Stat(opts.Masterpath); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if _, err := shell.HandleLoad(s, []string{"load", opts.Masterpath}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func main() {
	var promptFlag = flag.Bool("c", true, "use prompt?")
	var serverFlag = flag.Bool("server", false, "serve the REPL over TCP instead of stdin")
	var portFlag = flag.Int("p", config.DefaultPort, "port number")
	var fileFlag = flag.String("file", "", "masterpath to load on start and persist on exit")
	var changelogFlag = flag.Bool("changelog", false, "persist changes as deltas after the first full save")
	var orderFlag = flag.Int("order", config.DefaultOrder, "top frame order")
	var cacheFlag = flag.Int("cache", config.DefaultMaxCacheDepth, "deepest cached domain, -1 disables caching")
	var logFlag = flag.String("log", "INFO", "log level")
	flag.Parse()

	logger.New(*logFlag)
	defer logger.OnExit()

	opts := framehash.DefaultOptions()
	opts.Order = *orderFlag
	opts.CacheDepth = *cacheFlag
	opts.Masterpath = *fileFlag
	opts.Changelog = *changelogFlag && *fileFlag != ""

	s, err := openSession(opts)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() {
		if err := s.Close(); err != nil {
			fmt.Println(err)
		}
	}()
	setupCloseHandler(s)

	prompt := config.GetPrompt(*promptFlag)
	r := shell.FramehashRepl(s)
	if *serverFlag {
		startServer(r, prompt, *portFlag)
	} else {
		r.Run(uuid.New(), prompt, nil, nil)
	}
}

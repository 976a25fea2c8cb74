package main

import (
	"flag"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"framehash/pkg/config"
)

// Writes everything from src to dest.
func mustCopy(dst io.Writer, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil {
		log.Fatal(err)
	}
}

// commandLines turns "set 1 2; get 1" into one command per line.
func commandLines(s string) string {
	var sb strings.Builder
	for _, cmd := range strings.Split(s, ";") {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			sb.WriteString(cmd)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Connect to a framehash server. Commands are read from stdin unless -e or -f
// supplies them; the session ends after the last one.
func main() {
	var port = flag.Int("p", config.DefaultPort, "port number")
	var host = flag.String("host", "localhost", "server host")
	var execFlag = flag.String("e", "", "commands to run, separated by ';'")
	var scriptFlag = flag.String("f", "", "file with one command per line")
	var timeout = flag.Duration("timeout", 5*time.Second, "connect timeout")
	flag.Parse()

	var input io.Reader = os.Stdin
	switch {
	case *execFlag != "" && *scriptFlag != "":
		log.Fatal("-e and -f are exclusive")
	case *execFlag != "":
		input = strings.NewReader(commandLines(*execFlag))
	case *scriptFlag != "":
		f, err := os.Open(*scriptFlag)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		input = f
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	conn, err := net.DialTimeout("tcp", addr, *timeout)
	if err != nil {
		log.Fatalf("%s server at %s: %v", config.Name, addr, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		mustCopy(os.Stdout, conn)
		close(done)
	}()
	mustCopy(conn, input)
	// Half-close so the server sees EOF and ends the session.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			log.Fatal(err)
		}
	}
	<-done
}

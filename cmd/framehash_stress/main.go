package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"framehash/pkg/framehash"
	"framehash/pkg/shell"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var MAX_DELAY int64 = 10

// Get delay jitter.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(MAX_DELAY)+1) * time.Millisecond
}

// Parse workload
func parseWorkload(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var workload []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		workload = append(workload, scanner.Text())
	}
	return workload, scanner.Err()
}

// Handle workload
func handleWorkload(c chan string, wg *sync.WaitGroup, workload []string, idx int, n int) {
	defer wg.Done()
	for i := idx; i < len(workload); i += n {
		time.Sleep(jitter())
		c <- workload[i]
	}
}

// runWorkload feeds the lines of a workload file to n clients sharing one
// REPL channel.
func runWorkload(s *shell.Session, path string, n int) error {
	workload, err := parseWorkload(path)
	if err != nil {
		return err
	}
	r := shell.FramehashRepl(s)
	c := make(chan string)
	done := make(chan struct{})
	go func() {
		r.RunChan(c, uuid.New(), "", nil)
		close(done)
	}()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go handleWorkload(c, &wg, workload, i, n)
	}
	wg.Wait()
	close(c)
	<-done
	return nil
}

// runGenerated has each of n workers insert its own stripe of keys, read
// them back and delete every other one. It returns the number of keys that
// should remain.
func runGenerated(fh *framehash.Framehash, keys int, n int) (int64, error) {
	var g errgroup.Group
	for w := 0; w < n; w++ {
		g.Go(func() error {
			for k := w; k < keys; k += n {
				if _, err := fh.SetInt(framehash.PlainKey(uint64(k)), int64(k)); err != nil {
					return err
				}
			}
			for k := w; k < keys; k += n {
				v, ok, err := fh.GetInt(framehash.PlainKey(uint64(k)))
				if err != nil {
					return err
				}
				if !ok || v != int64(k) {
					return fmt.Errorf("key %d: got %d (found %v)", k, v, ok)
				}
			}
			for k := w; k < keys; k += n {
				if k%2 == 1 {
					if _, err := fh.Delete(framehash.PlainKey(uint64(k))); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int64((keys + 1) / 2), nil
}

// verify checks the item counter against a full scan.
func verify(fh *framehash.Framehash, expected int64) error {
	if err := fh.Flush(false); err != nil {
		return err
	}
	active, err := fh.CountActive()
	if err != nil {
		return err
	}
	if active != fh.Len() {
		return fmt.Errorf("len %d, active %d", fh.Len(), active)
	}
	if expected >= 0 && active != expected {
		return fmt.Errorf("expected %d items, found %d", expected, active)
	}
	if n := fh.CheckAllocators(); n != 0 {
		return fmt.Errorf("%d allocator inconsistencies", n)
	}
	return nil
}

// Stress a synchronized instance.
func main() {
	var workloadFlag = flag.String("workload", "", "workload file of shell commands")
	var keysFlag = flag.Int("keys", 100000, "number of generated keys when no workload is given")
	var nFlag = flag.Int("n", 1, "number of threads to run (default: 1)")
	var verifyFlag = flag.Bool("verify", false, "enable to verify map state at the end of the workload")
	var logFlag = flag.String("log", "NOOP", "log level")
	flag.Parse()

	logger.New(*logFlag)
	defer logger.OnExit()

	s, err := shell.NewSession(framehash.DefaultOptions())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer s.Close()

	start := time.Now()
	expected := int64(-1)
	if *workloadFlag != "" {
		err = runWorkload(s, *workloadFlag, *nFlag)
	} else {
		expected, err = runGenerated(s.Map(), *keysFlag, *nFlag)
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("done in %v, %d items\n", time.Since(start), s.Map().Len())

	if *verifyFlag {
		if err := verify(s.Map(), expected); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("verified")
	}
}

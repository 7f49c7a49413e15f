// Command shm-acceptor attaches to an existing shared memory segment
// created by a Creator peer and serves the command/status exchange protocol
// until a shutdown command or signal arrives.
//
// Usage:
//
//	shm-acceptor [flags] <shm-name>
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/richinsley/shmduplex"
)

func main() {
	var (
		pollInterval    = flag.Duration("poll", shmduplex.DefaultPollInterval, "idle polling interval")
		responseTimeout = flag.Duration("timeout", shmduplex.DefaultResponseTimeout, "bound on waiting for creator readiness")
		attachAttempts  = flag.Int("attach-attempts", shmduplex.DefaultAttachAttempts, "attempts to open the segment before giving up")
		verbose         = flag.Bool("v", false, "enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <shm-name>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	name := flag.Arg(0)

	logger := logrus.New()
	if *verbose {
		logger.Level = logrus.DebugLevel
	}
	log := logger.WithField("logger", "shm-acceptor")
	shmduplex.SetLogger(log)

	log.Infof("Acceptor starting. PID: %d, segment: %q", os.Getpid(), name)

	acc := shmduplex.NewAcceptor(name, nil)
	acc.SetPollInterval(*pollInterval)
	acc.SetResponseTimeout(*responseTimeout)
	acc.SetAttachOptions(shmduplex.AttachOptions{Attempts: *attachAttempts})

	if err := acc.Connect(); err != nil {
		log.Errorf("Failed to connect to segment %q: %v", name, err)
		os.Exit(1)
	}
	defer acc.Close()

	start := time.Now()
	if err := acc.Run(); err != nil {
		log.Errorf("Exchange loop failed: %v", err)
		os.Exit(1)
	}
	log.Infof("Acceptor finished after %v", time.Since(start).Round(time.Millisecond))
}

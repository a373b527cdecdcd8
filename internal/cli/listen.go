package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grantcarthew/cdpwire/internal/cdp"
)

var listenCmd = &cobra.Command{
	Use:   "listen <event>...",
	Short: "Stream CDP events until interrupted",
	Long: `Subscribes to the named events and prints each one as a JSON line.
Domains are enabled first so the browser starts emitting them.

Examples:
  cdpctl listen Page.loadEventFired
  cdpctl listen Network.requestWillBeSent Network.responseReceived --count 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

func init() {
	listenCmd.Flags().Int("count", 0, "Exit after this many events (0 = unlimited)")
	listenCmd.Flags().Duration("for", 0, "Exit after this long (0 = until interrupted)")
	listenCmd.Flags().Bool("no-enable", false, "Do not send <Domain>.enable for each event domain")
	rootCmd.AddCommand(listenCmd)
}

// eventLine is one printed event.
type eventLine struct {
	Time   string `json:"time"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

func runListen(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	duration, _ := cmd.Flags().GetDuration("for")
	noEnable, _ := cmd.Flags().GetBool("no-enable")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	s, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	// Handlers run on the routing goroutine; printing is serialized there,
	// the counter is shared with this goroutine.
	var (
		mu      sync.Mutex
		seen    int
		reached = make(chan struct{})
	)
	for _, event := range args {
		s.client.Subscribe(event, func(e cdp.Event) {
			mu.Lock()
			defer mu.Unlock()
			if count > 0 && seen >= count {
				return
			}
			seen++
			_ = printValue(eventLine{
				Time:   time.Now().UTC().Format(time.RFC3339Nano),
				Method: e.Method,
				Params: e.Params,
			})
			if count > 0 && seen == count {
				close(reached)
			}
		})
	}

	if !noEnable {
		for _, domain := range eventDomains(args) {
			if _, err := s.client.SendContext(ctx, domain+".enable", nil); err != nil {
				return fmt.Errorf("enable %s: %w", domain, err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-s.client.Done():
			if gctx.Err() != nil {
				return nil
			}
			if err := s.client.Err(); err != nil {
				return fmt.Errorf("%w: %v", cdp.ErrDeadBrowser, err)
			}
			return cdp.ErrDeadBrowser
		case <-reached:
			return errDone
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	err = g.Wait()
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

// errDone stops the errgroup once enough events were printed.
var errDone = errors.New("event count reached")

// eventDomains returns the distinct domains of the event names, in order.
func eventDomains(events []string) []string {
	var domains []string
	seen := make(map[string]bool)
	for _, e := range events {
		d, _, ok := strings.Cut(e, ".")
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	return domains
}

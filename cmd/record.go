package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/micrelay/internal/recorder"
	"github.com/audiolibrelab/micrelay/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the microphone until stopped or the maximum duration",
	Long: `Record the microphone into a new file in the output directory.

Press Enter or Ctrl+C to stop and keep the file. With --cancel-on-interrupt,
Ctrl+C discards the recording instead. The session also ends on its own
once the maximum duration is reached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		cancelOnInterrupt, _ := cmd.Flags().GetBool("cancel-on-interrupt")
		noMeter, _ := cmd.Flags().GetBool("no-meter")

		if cmd.Flags().Changed("max-duration") {
			cfg.Recording.MaxDuration, _ = cmd.Flags().GetDuration("max-duration")
		}
		if cmd.Flags().Changed("format") {
			cfg.Recording.Format, _ = cmd.Flags().GetString("format")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		slog.Debug("Creating service instance", "profile", cfg.Profile)
		svc, err := service.New(cfg, cfgFile, nil)
		if err != nil {
			return err
		}
		defer svc.Close()

		return record(svc, dir, cancelOnInterrupt, !noMeter)
	},
}

func record(svc service.Service, dir string, cancelOnInterrupt, meter bool) error {
	subCtx, closeSubs := context.WithCancel(context.Background())
	defer closeSubs()
	statuses := svc.SubscribeStatus(subCtx)
	power := svc.SubscribePower(subCtx)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := svc.StartRecording(sigCtx, dir); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	limit := time.Duration(svc.GetStatus().Limit * float64(time.Second))

	action := "stop"
	if cancelOnInterrupt {
		action = "discard"
	}
	fmt.Fprintf(os.Stderr, "Recording... press Enter to stop, Ctrl+C to %s\n", action)

	var result recorder.Status
	g := new(errgroup.Group)

	g.Go(func() error {
		defer closeSubs()
		for st := range statuses.Events() {
			if st.Kind == recorder.StatusProgress && meter {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r%s\n", statusLine(st, limit))
			if st.Terminal() {
				result = st
				return nil
			}
		}
		return errors.New("status stream ended before the recording finished")
	})

	g.Go(func() error {
		if !meter {
			for range power.Events() {
			}
			return nil
		}
		var last time.Time
		for p := range power.Events() {
			if time.Since(last) < 100*time.Millisecond {
				continue
			}
			last = time.Now()
			elapsed := time.Duration(0)
			if sess := svc.GetStatus().Session; sess != nil {
				elapsed = time.Duration(sess.Elapsed * float64(time.Second))
			}
			fmt.Fprintf(os.Stderr, "\r%s %s", clock(elapsed, limit), meterLine(p, 30))
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			if cancelOnInterrupt {
				slog.Debug("Interrupt received, discarding recording")
				svc.CancelRecording()
			} else {
				slog.Debug("Interrupt received, stopping recording")
				svc.StopRecording()
			}
		case <-subCtx.Done():
		}
		return nil
	})

	// Not part of the group: a blocked stdin read cannot be interrupted.
	go func() {
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			svc.StopRecording()
		}
	}()

	if err := g.Wait(); err != nil {
		return err
	}

	switch result.Kind {
	case recorder.StatusCompleted:
		fmt.Printf("Saved: %s\n", result.Path)
	case recorder.StatusCancelled:
		fmt.Println("Recording discarded")
	case recorder.StatusFailed:
		return fmt.Errorf("recording failed: %w", result.Err)
	}
	return nil
}

func init() {
	recordCmd.Flags().StringP("dir", "d", "", "output directory (overrides config)")
	recordCmd.Flags().Bool("cancel-on-interrupt", false, "discard the recording on Ctrl+C instead of keeping it")
	recordCmd.Flags().Duration("max-duration", 0, "maximum recording duration (overrides config)")
	recordCmd.Flags().StringP("format", "f", "", "output format: m4a, wav, aiff (overrides config)")
	recordCmd.Flags().Bool("no-meter", false, "print progress lines instead of the level meter")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var callCmd = &cobra.Command{
	Use:   "call <identity>",
	Short: "Call another participant and stay on the line until either side hangs up",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		callType := models.CallTypeVoice
		if viper.GetBool("video") {
			callType = models.CallTypeVideo
		}
		return placeCall(args[0], callType)
	},
}

func init() {
	callCmd.Flags().Bool("video", false, "Place a video call instead of a voice call")
	_ = viper.BindPFlag("video", callCmd.Flags().Lookup("video"))
	rootCmd.AddCommand(callCmd)
}

func placeCall(peer string, callType models.CallType) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := connect(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := p.machine.StartCall(peer, callType); err != nil {
		return err
	}

	for {
		select {
		case n := <-p.machine.Notifications():
			fmt.Println(describe(n))
			if n.Kind == session.NotifyEnded {
				return nil
			}
		case <-p.client.Done():
			return fmt.Errorf("lost connection to relay")
		case <-ctx.Done():
			return p.machine.EndCall()
		}
	}
}

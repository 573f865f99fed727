package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/callrelay/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Wait for incoming calls",
	RunE: func(_ *cobra.Command, _ []string) error {
		return listen(viper.GetBool("auto-accept"))
	},
}

func init() {
	listenCmd.Flags().Bool("auto-accept", true, "Answer incoming calls, otherwise reject them")
	_ = viper.BindPFlag("auto-accept", listenCmd.Flags().Lookup("auto-accept"))
	rootCmd.AddCommand(listenCmd)
}

func listen(autoAccept bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := connect(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("listening as %s\n", p.client.Identity())

	for {
		select {
		case n := <-p.machine.Notifications():
			fmt.Println(describe(n))
			if n.Kind != session.NotifyIncoming {
				continue
			}
			answer := p.machine.RejectCall
			if autoAccept {
				answer = p.machine.AcceptCall
			}
			if err := answer(); err != nil {
				p.logger.WithError(err).Warn("failed to answer call")
			}
		case <-p.client.Done():
			return fmt.Errorf("lost connection to relay")
		case <-ctx.Done():
			return p.machine.EndCall()
		}
	}
}

// Rudpdemo runs a server and a client of the reliable UDP protocol in one
// process and prints the throughput of the exchange.
//
// By default both sides use real UDP sockets on localhost. With --memory
// they talk over an in-process network that can drop and delay datagrams.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rudp/internal/app"
	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

const serverPort = 17812

type demoFlags struct {
	memory   bool
	loss     float64
	delay    time.Duration
	jitter   time.Duration
	messages int
	size     int
	debug    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var f demoFlags

	cmd := &cobra.Command{
		Use:           "rudpdemo",
		Short:         "Loopback demo of the reliable UDP protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.debug {
				util.EnableDebug()
			}
			return runDemo(cmd.Context(), f)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.memory, "memory", false, "Use an in-process network instead of UDP")
	fl.Float64Var(&f.loss, "loss", 0, "Datagram loss probability (--memory only)")
	fl.DurationVar(&f.delay, "delay", 0, "Base one-way delay (--memory only)")
	fl.DurationVar(&f.jitter, "jitter", 0, "Extra random delay (--memory only)")
	fl.IntVarP(&f.messages, "messages", "n", 100, "Messages pushed by the server")
	fl.IntVarP(&f.size, "size", "s", 973, "Characters per message")
	fl.BoolVar(&f.debug, "debug", false, "Enable debug logging")

	if err := cmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func runDemo(ctx context.Context, f demoFlags) error {
	serverTr, clientTr, err := transports(ctx, f)
	if err != nil {
		return err
	}

	cfg := app.DemoConfig{
		ServerAddr:  transport.Addr{Host: "127.0.0.1", Port: serverPort},
		Messages:    f.messages,
		MessageSize: f.size,
	}
	if f.memory {
		cfg.ServerAddr = serverTr.LocalAddr()
		// Loss needs a larger retry budget than a quiet loopback.
		cfg.Options = []socket.Option{socket.WithMaxTries(20), socket.WithChildMaxTries(20)}
	}

	spinner, _ := pterm.DefaultSpinner.Start("exchanging messages...")
	report, err := app.RunDemo(ctx, serverTr, clientTr, cfg)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(report.String())

	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Frames sent", "Frames received", "Retransmits", "Dropped"},
		{
			pterm.Sprint(util.Stats.FramesSent.Load()),
			pterm.Sprint(util.Stats.FramesRecv.Load()),
			pterm.Sprint(util.Stats.Retransmits.Load()),
			pterm.Sprint(util.Stats.Dropped.Load()),
		},
	}).Render()
	return nil
}

// transports binds the server and client ends for the chosen mode.
func transports(ctx context.Context, f demoFlags) (server, client transport.Datagram, err error) {
	if f.memory {
		n := transport.NewNetwork(
			transport.WithLoss(f.loss),
			transport.WithDelay(f.delay, f.jitter),
		)
		s, err := n.Listen(ctx, "10.0.0.1", serverPort)
		if err != nil {
			return nil, nil, err
		}
		c, err := n.Listen(ctx, "10.0.0.2", 0)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, c, nil
	}

	s, err := transport.ListenUDP(ctx, serverPort)
	if err != nil {
		return nil, nil, err
	}
	c, err := transport.ListenUDP(ctx, 0)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, c, nil
}
